// Package payments defines the payment processor collaborator consumed by the trigger adapters.
package payments

import (
	"context"
	"time"

	"github.com/and161185/rewardvault/internal/model"
)

// Event types the payment-event adapter acts on.
const (
	EventCheckoutCompleted           = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceed = "checkout.session.async_payment_succeeded"
)

// SessionFilter narrows ListCompletedSessions. Zero values mean "no filter".
type SessionFilter struct {
	CustomerRef string
	// UserID keeps only sessions whose metadata names this user. The processor
	// cannot filter on metadata, so matching happens while paging.
	UserID string
	Since  time.Time
	// Limit caps the sessions returned.
	Limit int
	// MaxScan caps the sessions read from the processor when UserID is set.
	MaxScan int
}

// Processor reads checkout sessions from the payment processor.
type Processor interface {
	// RetrieveSession fetches one session. Unknown ids yield errs.ErrNotFound.
	RetrieveSession(ctx context.Context, id string) (*model.CheckoutSession, error)
	// ListCompletedSessions returns sessions with status complete, newest first.
	ListCompletedSessions(ctx context.Context, f SessionFilter) ([]model.CheckoutSession, error)
}

// Event is a verified push notification. Session is nil for non-checkout events.
type Event struct {
	ID      string
	Type    string
	Session *model.CheckoutSession
}

// EventVerifier authenticates and decodes a webhook payload.
type EventVerifier interface {
	// Verify returns errs.ErrInvalidSignature when the payload cannot be trusted.
	Verify(payload []byte, signatureHeader string) (Event, error)
}
