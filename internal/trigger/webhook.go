package trigger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/rewardvault/internal/errs"
	"github.com/and161185/rewardvault/internal/model"
	"github.com/and161185/rewardvault/internal/payments"
	"github.com/and161185/rewardvault/internal/repository"
)

// WebhookResult describes what a delivery led to.
type WebhookResult struct {
	EventID   string
	EventType string
	SessionID string
	Ignored   string // reason the event was skipped, empty when reconciled
	Report    *model.ReconcileReport
}

// PaymentEvents handles signed push notifications from the payment processor.
type PaymentEvents struct {
	verifier  payments.EventVerifier
	rec       Reconciler
	customers repository.CustomerRepository
	log       *zap.Logger
}

// NewPaymentEvents constructs the webhook adapter. customers may be nil.
func NewPaymentEvents(v payments.EventVerifier, rec Reconciler, customers repository.CustomerRepository, log *zap.Logger) *PaymentEvents {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentEvents{verifier: v, rec: rec, customers: customers, log: log}
}

// Handle verifies and processes one delivery.
//
// Errors: errs.ErrInvalidSignature and errs.ErrValidation must be answered with
// 4xx; a transient error (errs.IsTransient) asks the processor to redeliver.
// Permanent reconcile failures are logged and reported with a nil error.
func (h *PaymentEvents) Handle(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	ev, err := h.verifier.Verify(payload, signature)
	if err != nil {
		h.log.Warn("webhook rejected", zap.Error(err))
		return WebhookResult{}, err
	}
	res := WebhookResult{EventID: ev.ID, EventType: ev.Type}
	log := h.log.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))

	if ev.Type != payments.EventCheckoutCompleted && ev.Type != payments.EventCheckoutAsyncPaymentSucceed {
		res.Ignored = "event_type"
		log.Debug("webhook ignored")
		return res, nil
	}
	if ev.Session == nil {
		return res, fmt.Errorf("%w: event %s has no checkout session", errs.ErrValidation, ev.ID)
	}
	s := *ev.Session
	res.SessionID = s.ID
	log = log.With(zap.String("session_id", s.ID))

	if reason := reconcilable(s); reason != "" {
		// Subscriptions and async payments still pending are not ours to grant.
		res.Ignored = reason
		log.Info("webhook session skipped", zap.String("reason", reason), zap.String("mode", s.Mode))
		return res, nil
	}
	req, err := requestFor(s, model.SourceWebhook)
	if err != nil {
		log.Warn("webhook metadata invalid", zap.Error(err))
		return res, err
	}

	h.linkCustomer(ctx, log, req, s.CustomerRef)

	rep := h.rec.Reconcile(ctx, req)
	res.Report = &rep
	if rep.Transient() {
		return res, fmt.Errorf("%w: session %s: %s", errs.ErrStoreUnavailable, s.ID, rep.Outcome())
	}
	if rep.Failed() {
		log.Error("webhook reconcile failed permanently", zap.String("outcome", rep.Outcome()))
	}
	return res, nil
}

func (h *PaymentEvents) linkCustomer(ctx context.Context, log *zap.Logger, req model.ReconcileRequest, ref string) {
	if h.customers == nil || ref == "" {
		return
	}
	if err := h.customers.LinkCustomer(ctx, req.UserID, ref); err != nil {
		log.Warn("link customer", zap.String("customer_ref", ref), zap.Error(err))
	}
}
