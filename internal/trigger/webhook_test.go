package trigger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/rewardvault/internal/errs"
	"github.com/and161185/rewardvault/internal/model"
	"github.com/and161185/rewardvault/internal/payments"
)

func newWebhook(t *testing.T, ev payments.Event, verr error) (*PaymentEvents, *fakeReconciler, *fakeCustomers) {
	t.Helper()
	rec := &fakeReconciler{created: 2}
	cust := &fakeCustomers{}
	h := NewPaymentEvents(&fakeVerifier{ev: ev, err: verr}, rec, cust, zaptest.NewLogger(t))
	return h, rec, cust
}

func TestWebhook_CompletedReconciles(t *testing.T) {
	user, cart := newID(), newID()
	s := cartSession("cs_1", user, cart)
	h, rec, cust := newWebhook(t, payments.Event{ID: "evt_1", Type: payments.EventCheckoutCompleted, Session: &s}, nil)

	res, err := h.Handle(context.Background(), []byte("{}"), "sig")
	require.NoError(t, err)
	require.Empty(t, res.Ignored)
	require.Equal(t, "cs_1", res.SessionID)
	require.NotNil(t, res.Report)
	require.Equal(t, 2, res.Report.EntitlementsCreated)

	require.Len(t, rec.reqs, 1)
	require.Equal(t, model.ReconcileRequest{SessionID: "cs_1", UserID: user, CartID: cart, Source: model.SourceWebhook}, rec.reqs[0])
	require.Equal(t, "cus_1", cust.linked[user])
}

func TestWebhook_AsyncPaymentSucceededReconciles(t *testing.T) {
	s := cartSession("cs_2", newID(), newID())
	h, rec, _ := newWebhook(t, payments.Event{ID: "evt_2", Type: payments.EventCheckoutAsyncPaymentSucceed, Session: &s}, nil)

	_, err := h.Handle(context.Background(), nil, "sig")
	require.NoError(t, err)
	require.Equal(t, 1, rec.calls())
}

func TestWebhook_FreePackageReconciles(t *testing.T) {
	s := cartSession("cs_free", newID(), newID())
	s.PaymentStatus = model.PaymentStatusNoPaymentRequired
	h, rec, _ := newWebhook(t, payments.Event{ID: "evt_3", Type: payments.EventCheckoutCompleted, Session: &s}, nil)

	_, err := h.Handle(context.Background(), nil, "sig")
	require.NoError(t, err)
	require.Equal(t, 1, rec.calls())
}

func TestWebhook_InvalidSignature(t *testing.T) {
	h, rec, _ := newWebhook(t, payments.Event{}, fmt.Errorf("%w: bad", errs.ErrInvalidSignature))

	_, err := h.Handle(context.Background(), []byte("{}"), "bad")
	require.ErrorIs(t, err, errs.ErrInvalidSignature)
	require.Zero(t, rec.calls())
}

func TestWebhook_Ignored(t *testing.T) {
	user, cart := newID(), newID()

	sub := cartSession("cs_sub", user, cart)
	sub.Mode = model.SessionModeSubscription
	other := cartSession("cs_other", user, cart)
	other.Metadata.Kind = "gift"
	unpaid := cartSession("cs_unpaid", user, cart)
	unpaid.PaymentStatus = "unpaid"

	cases := []struct {
		name   string
		ev     payments.Event
		reason string
	}{
		{"other type", payments.Event{ID: "e1", Type: "invoice.paid"}, "event_type"},
		{"subscription", payments.Event{ID: "e2", Type: payments.EventCheckoutCompleted, Session: &sub}, "not_cart_checkout"},
		{"not cart", payments.Event{ID: "e3", Type: payments.EventCheckoutCompleted, Session: &other}, "not_cart_checkout"},
		{"unpaid", payments.Event{ID: "e4", Type: payments.EventCheckoutCompleted, Session: &unpaid}, "not_paid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, rec, _ := newWebhook(t, tc.ev, nil)
			res, err := h.Handle(context.Background(), nil, "sig")
			require.NoError(t, err)
			require.Equal(t, tc.reason, res.Ignored)
			require.Zero(t, rec.calls())
		})
	}
}

func TestWebhook_BadMetadata(t *testing.T) {
	s := cartSession("cs_bad", newID(), newID())
	s.Metadata.CartID = "not-a-uuid"
	h, rec, _ := newWebhook(t, payments.Event{ID: "e", Type: payments.EventCheckoutCompleted, Session: &s}, nil)

	_, err := h.Handle(context.Background(), nil, "sig")
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Zero(t, rec.calls())
}

func TestWebhook_TransientFailureAsksForRedelivery(t *testing.T) {
	s := cartSession("cs_t", newID(), newID())
	h, rec, _ := newWebhook(t, payments.Event{ID: "e", Type: payments.EventCheckoutCompleted, Session: &s}, nil)
	rec.reports = map[string]model.ReconcileReport{
		"cs_t": {CartErr: fmt.Errorf("%w: load cart", errs.ErrStoreUnavailable)},
	}

	_, err := h.Handle(context.Background(), nil, "sig")
	require.Error(t, err)
	require.True(t, errs.IsTransient(err))
}

func TestWebhook_PermanentFailureIsAcknowledged(t *testing.T) {
	s := cartSession("cs_m", newID(), newID())
	h, rec, cust := newWebhook(t, payments.Event{ID: "e", Type: payments.EventCheckoutCompleted, Session: &s}, nil)
	cust.linkErr = errors.New("unique violation")
	rec.reports = map[string]model.ReconcileReport{
		"cs_m": {CartErr: errs.ErrCartMissing},
	}

	res, err := h.Handle(context.Background(), nil, "sig")
	require.NoError(t, err)
	require.Equal(t, "cart_failed", res.Report.Outcome())
}
