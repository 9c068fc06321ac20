// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/rewardvault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// EntitlementRepository provides access to entitlement grants.
type EntitlementRepository interface {
	// InsertIfAbsent atomically creates e unless an active entitlement exists for
	// (e.UserID, e.ProductSlug). It reports whether a row was inserted and returns
	// the stored record (the new one, or the pre-existing one).
	InsertIfAbsent(ctx context.Context, e *model.Entitlement) (bool, *model.Entitlement, error)

	// GetActive loads the active entitlement for the pair.
	GetActive(ctx context.Context, userID uuid.UUID, productSlug string) (*model.Entitlement, error)

	// ListActive returns active entitlements joined with product details.
	ListActive(ctx context.Context, userID uuid.UUID) ([]model.Package, error)

	// SetStatus moves the active entitlement for the pair to status.
	SetStatus(ctx context.Context, userID uuid.UUID, productSlug string, status model.EntitlementStatus) error
}
