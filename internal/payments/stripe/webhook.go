package stripe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/and161185/rewardvault/internal/errs"
	"github.com/and161185/rewardvault/internal/payments"
)

// DefaultTolerance bounds the age of a signed webhook timestamp.
const DefaultTolerance = 5 * time.Minute

// Verifier implements payments.EventVerifier with Stripe's signing scheme.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

var _ payments.EventVerifier = (*Verifier)(nil)

// NewVerifier constructs a verifier for the endpoint signing secret.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}
}

// Verify checks the Stripe-Signature header and decodes the event.
func (v *Verifier) Verify(payload []byte, header string) (payments.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return payments.Event{}, fmt.Errorf("%w: %v", errs.ErrInvalidSignature, err)
	}

	out := payments.Event{ID: ev.ID, Type: string(ev.Type)}
	if !strings.HasPrefix(out.Type, "checkout.session.") || ev.Data == nil {
		return out, nil
	}
	var cs stripeapi.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
		return payments.Event{}, fmt.Errorf("%w: decode checkout session: %v", errs.ErrValidation, err)
	}
	s := toSession(&cs)
	out.Session = &s
	return out, nil
}
