// Package trigger holds the adapters that discover completed checkout sessions
// and hand them to the reconciler: webhook push, user sync and operator recovery.
package trigger

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/rewardvault/internal/errs"
	"github.com/and161185/rewardvault/internal/model"
)

// Reconciler is the single entry point all adapters call.
type Reconciler interface {
	Reconcile(ctx context.Context, req model.ReconcileRequest) model.ReconcileReport
}

// reconcilable reports why a session is not a completed cart purchase, or "" if it is.
func reconcilable(s model.CheckoutSession) string {
	switch {
	case !s.IsCartCheckout():
		return "not_cart_checkout"
	case !s.IsPaidCompletion():
		return "not_paid"
	}
	return ""
}

// requestFor extracts the reconcile request from session metadata.
func requestFor(s model.CheckoutSession, src model.Source) (model.ReconcileRequest, error) {
	userID, err := uuid.FromString(s.Metadata.UserID)
	if err != nil || userID == uuid.Nil {
		return model.ReconcileRequest{}, fmt.Errorf("%w: session %s: bad userId metadata", errs.ErrValidation, s.ID)
	}
	cartID, err := uuid.FromString(s.Metadata.CartID)
	if err != nil || cartID == uuid.Nil {
		return model.ReconcileRequest{}, fmt.Errorf("%w: session %s: bad cartId metadata", errs.ErrValidation, s.ID)
	}
	return model.ReconcileRequest{SessionID: s.ID, UserID: userID, CartID: cartID, Source: src}, nil
}
