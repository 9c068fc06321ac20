package model

import (
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/rewardvault/internal/errs"
)

// Source identifies which trigger asked for a reconciliation.
type Source string

const (
	SourceWebhook  Source = "webhook"
	SourceUserSync Source = "user_sync"
	SourceRecovery Source = "recovery"
	SourceManual   Source = "manual"
)

// ReconcileRequest identifies a completed purchase to turn into entitlements.
type ReconcileRequest struct {
	SessionID string
	UserID    uuid.UUID
	CartID    uuid.UUID
	Source    Source
}

// ItemResult is the outcome for one cart line item.
type ItemResult struct {
	ProductID   uuid.UUID
	ProductSlug string
	Created     bool
	Err         error
}

// ReconcileReport aggregates the outcome of one reconciliation pass.
// Errors are carried as data; Reconcile itself never fails.
type ReconcileReport struct {
	SessionID           string
	UserID              uuid.UUID
	CartID              uuid.UUID
	EntitlementsCreated int
	Results             []ItemResult
	CartErr             error // cart could not be loaded or transitioned
	CartTransitioned    bool  // this pass moved the cart from open to ordered
}

// Failed reports whether any part of the pass did not succeed.
func (r ReconcileReport) Failed() bool {
	if r.CartErr != nil {
		return true
	}
	for _, res := range r.Results {
		if res.Err != nil {
			return true
		}
	}
	return false
}

// Transient reports whether a later invocation could succeed where this one failed.
func (r ReconcileReport) Transient() bool {
	if errs.IsTransient(r.CartErr) {
		return true
	}
	for _, res := range r.Results {
		if errs.IsTransient(res.Err) {
			return true
		}
	}
	return false
}

// Outcome returns a short label for logs and API responses.
func (r ReconcileReport) Outcome() string {
	switch {
	case r.CartErr != nil && len(r.Results) == 0:
		return "cart_failed"
	case r.Failed():
		return "partial"
	default:
		return "ok"
	}
}
