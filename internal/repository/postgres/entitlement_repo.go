package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/rewardvault/internal/errs"
	"github.com/and161185/rewardvault/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// EntitlementRepo implements EntitlementRepository using PostgreSQL.
// Uniqueness of active grants is enforced by the partial unique index
// entitlements_active_user_product on (user_id, product_slug) WHERE status='active'.
type EntitlementRepo struct{ db *DB }

// NewEntitlementRepo constructs an entitlement repository.
func NewEntitlementRepo(db *DB) *EntitlementRepo { return &EntitlementRepo{db: db} }

// InsertIfAbsent inserts e unless an active grant already exists for the pair.
// The insert-vs-noop decision comes from the database: RETURNING yields a row
// only when this statement inserted it.
func (r *EntitlementRepo) InsertIfAbsent(ctx context.Context, e *model.Entitlement) (bool, *model.Entitlement, error) {
	const q = `
INSERT INTO entitlements (id, user_id, product_id, product_slug, access_type, status, starts_at, ends_at, metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (user_id, product_slug) WHERE status = 'active' DO NOTHING
RETURNING created_at`
	meta := e.Metadata
	if meta == nil {
		meta = model.Metadata{}
	}
	var createdAt time.Time
	err := r.db.Pool.QueryRow(ctx, q,
		e.ID, e.UserID, e.ProductID, e.ProductSlug,
		string(e.AccessType), string(e.Status), e.StartsAt, e.EndsAt, meta,
	).Scan(&createdAt)
	switch {
	case err == nil:
		stored := *e
		stored.Metadata = meta
		stored.CreatedAt = createdAt
		return true, &stored, nil
	case errors.Is(err, pgx.ErrNoRows), isUniqueViolation(err):
		// Lost the race (or replay): the winner's row is the answer.
		existing, gerr := r.GetActive(ctx, e.UserID, e.ProductSlug)
		if gerr != nil {
			return false, nil, fmt.Errorf("load existing entitlement: %w", gerr)
		}
		return false, existing, nil
	default:
		return false, nil, err
	}
}

// GetActive loads the active entitlement for (userID, productSlug).
func (r *EntitlementRepo) GetActive(ctx context.Context, userID uuid.UUID, productSlug string) (*model.Entitlement, error) {
	const q = `
SELECT id, user_id, product_id, product_slug, access_type, status, starts_at, ends_at, metadata, created_at
FROM entitlements
WHERE user_id=$1 AND product_slug=$2 AND status='active'`
	row := r.db.Pool.QueryRow(ctx, q, userID, productSlug)
	e, err := scanEntitlement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

// ListActive returns the user's active entitlements whose products still exist.
func (r *EntitlementRepo) ListActive(ctx context.Context, userID uuid.UUID) ([]model.Package, error) {
	const q = `
SELECT e.id, e.user_id, e.product_id, e.product_slug, e.access_type, e.status, e.starts_at, e.ends_at, e.metadata, e.created_at,
       p.name, p.price_cents
FROM entitlements e
JOIN products p ON p.id = e.product_id
WHERE e.user_id=$1 AND e.status='active'
ORDER BY e.starts_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Package, 0)
	for rows.Next() {
		var (
			p            model.Package
			access, stat string
		)
		if err = rows.Scan(&p.ID, &p.UserID, &p.ProductID, &p.ProductSlug, &access, &stat,
			&p.StartsAt, &p.EndsAt, &p.Metadata, &p.CreatedAt, &p.Name, &p.PriceCents); err != nil {
			return nil, err
		}
		p.AccessType = model.AccessType(access)
		p.Status = model.EntitlementStatus(stat)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetStatus ends the active grant for the pair with the given status.
func (r *EntitlementRepo) SetStatus(ctx context.Context, userID uuid.UUID, productSlug string, status model.EntitlementStatus) error {
	if !status.Valid() || status == model.EntitlementActive {
		return fmt.Errorf("%w: cannot move entitlement to status %q", errs.ErrValidation, status)
	}
	const q = `
UPDATE entitlements
SET status=$3, ends_at=now()
WHERE user_id=$1 AND product_slug=$2 AND status='active'`
	tag, err := r.db.Pool.Exec(ctx, q, userID, productSlug, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanEntitlement(row pgx.Row) (*model.Entitlement, error) {
	var (
		e            model.Entitlement
		access, stat string
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.ProductID, &e.ProductSlug, &access, &stat,
		&e.StartsAt, &e.EndsAt, &e.Metadata, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.AccessType = model.AccessType(access)
	e.Status = model.EntitlementStatus(stat)
	return &e, nil
}
