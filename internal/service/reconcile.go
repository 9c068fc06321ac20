package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/rewardvault/internal/errs"
	"github.com/and161185/rewardvault/internal/model"
	"github.com/and161185/rewardvault/internal/repository"
)

const (
	defaultWriteAttempts = 3
	defaultWriteBackoff  = 100 * time.Millisecond
)

// Reconciler turns a completed checkout session into entitlements.
// It is the only path through which triggers create grants.
type Reconciler struct {
	carts    repository.CartRepository
	writer   EntitlementWriter
	log      *zap.Logger
	attempts int
	backoff  time.Duration
}

// NewReconciler constructs a Reconciler. attempts<=0 selects the default.
func NewReconciler(carts repository.CartRepository, writer EntitlementWriter, log *zap.Logger, attempts int) *Reconciler {
	if attempts <= 0 {
		attempts = defaultWriteAttempts
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{carts: carts, writer: writer, log: log, attempts: attempts, backoff: defaultWriteBackoff}
}

// Reconcile grants one entitlement per cart line item and moves an open cart to
// ordered. It never returns an error: failures are recorded in the report.
// Repeated calls for the same session converge.
func (r *Reconciler) Reconcile(ctx context.Context, req model.ReconcileRequest) model.ReconcileReport {
	rep := model.ReconcileReport{SessionID: req.SessionID, UserID: req.UserID, CartID: req.CartID}
	log := r.log.With(
		zap.String("session_id", req.SessionID),
		zap.String("user_id", req.UserID.String()),
		zap.String("cart_id", req.CartID.String()),
		zap.String("source", string(req.Source)),
	)

	if req.SessionID == "" || req.UserID == uuid.Nil || req.CartID == uuid.Nil {
		rep.CartErr = fmt.Errorf("%w: empty sessionID/userID/cartID", errs.ErrValidation)
		log.Warn("reconcile rejected", zap.Error(rep.CartErr))
		return rep
	}

	cart, err := r.carts.GetSnapshot(ctx, req.CartID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			rep.CartErr = fmt.Errorf("%w: %s", errs.ErrCartMissing, req.CartID)
			log.Warn("cart missing, nothing to grant")
		} else {
			rep.CartErr = fmt.Errorf("%w: load cart: %v", errs.ErrStoreUnavailable, err)
			log.Error("load cart", zap.Error(err))
		}
		return rep
	}
	if cart.UserID != req.UserID {
		rep.CartErr = fmt.Errorf("%w: cart owned by %s", errs.ErrCartOwnerMismatch, cart.UserID)
		log.Warn("cart owner mismatch", zap.String("cart_owner", cart.UserID.String()))
		return rep
	}

	rep.Results = make([]model.ItemResult, 0, len(cart.Items))
	for _, it := range cart.Items {
		res := r.grantItem(ctx, req, it)
		if res.Created {
			rep.EntitlementsCreated++
		}
		if res.Err != nil {
			log.Warn("line item not granted",
				zap.String("product_id", it.ProductID.String()),
				zap.String("product_slug", res.ProductSlug),
				zap.Error(res.Err),
			)
		}
		rep.Results = append(rep.Results, res)
	}

	// Transition even after partial failure so the cart cannot be checked out twice.
	if cart.Status == model.CartOpen {
		moved, err := r.carts.MarkOrdered(ctx, cart.ID, req.SessionID)
		if err != nil {
			rep.CartErr = fmt.Errorf("%w: mark ordered: %v", errs.ErrStoreUnavailable, err)
			log.Error("mark cart ordered", zap.Error(err))
		}
		rep.CartTransitioned = moved
	}

	log.Info("reconciled",
		zap.String("outcome", rep.Outcome()),
		zap.Int("items", len(rep.Results)),
		zap.Int("created", rep.EntitlementsCreated),
		zap.Bool("cart_transitioned", rep.CartTransitioned),
	)
	return rep
}

func (r *Reconciler) grantItem(ctx context.Context, req model.ReconcileRequest, it model.CartItem) model.ItemResult {
	res := model.ItemResult{ProductID: it.ProductID}
	if it.Product == nil {
		res.Err = fmt.Errorf("%w: %s", errs.ErrProductMissing, it.ProductID)
		return res
	}
	res.ProductSlug = it.Product.Slug

	qty := it.Quantity
	if qty < 1 {
		qty = 1
	}
	in := EnsureInput{
		UserID:      req.UserID,
		ProductID:   it.Product.ID,
		ProductSlug: it.Product.Slug,
		Metadata: model.Metadata{
			"session_id":         req.SessionID,
			"cart_id":            req.CartID.String(),
			"source":             string(req.Source),
			"product_name":       it.Product.Name,
			"price_paid_cents":   it.Product.PriceCents * int64(qty),
			"cart_item_quantity": qty,
		},
	}

	out, err := r.ensureWithRetry(ctx, in)
	if err != nil {
		res.Err = err
		return res
	}
	res.Created = out.Created
	return res
}

// ensureWithRetry retries store outages only; every other error is final.
func (r *Reconciler) ensureWithRetry(ctx context.Context, in EnsureInput) (EnsureResult, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		out, err := r.writer.Ensure(ctx, in)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !errors.Is(err, errs.ErrStoreUnavailable) || attempt == r.attempts {
			break
		}
		t := time.NewTimer(r.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return EnsureResult{}, fmt.Errorf("%w: %v", lastErr, ctx.Err())
		case <-t.C:
		}
	}
	return EnsureResult{}, lastErr
}
