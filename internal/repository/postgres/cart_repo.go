package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/rewardvault/internal/errs"
	"github.com/and161185/rewardvault/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// CartRepo implements CartRepository using PostgreSQL.
type CartRepo struct{ db *DB }

// NewCartRepo constructs a cart repository.
func NewCartRepo(db *DB) *CartRepo { return &CartRepo{db: db} }

// GetSnapshot loads the cart header and its items. Items whose product row is
// gone are returned with a nil Product so callers can report them per item.
func (r *CartRepo) GetSnapshot(ctx context.Context, cartID uuid.UUID) (*model.Cart, error) {
	const qCart = `
SELECT id, user_id, status, COALESCE(session_id, ''), created_at
FROM carts WHERE id=$1`
	var (
		c      model.Cart
		status string
	)
	if err := r.db.Pool.QueryRow(ctx, qCart, cartID).Scan(&c.ID, &c.UserID, &status, &c.SessionID, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	c.Status = model.CartStatus(status)

	const qItems = `
SELECT ci.product_id, ci.quantity, ci.added_at, p.slug, p.name, p.price_cents, p.active
FROM cart_items ci
LEFT JOIN products p ON p.id = ci.product_id
WHERE ci.cart_id=$1
ORDER BY ci.added_at ASC, ci.product_id ASC`
	rows, err := r.db.Pool.Query(ctx, qItems, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it     model.CartItem
			qty    int32
			added  time.Time
			slug   *string
			name   *string
			price  *int64
			active *bool
		)
		if err = rows.Scan(&it.ProductID, &qty, &added, &slug, &name, &price, &active); err != nil {
			return nil, err
		}
		it.Quantity = int(qty)
		it.AddedAt = added
		if slug != nil {
			p := &model.Product{ID: it.ProductID, Slug: *slug}
			if name != nil {
				p.Name = *name
			}
			if price != nil {
				p.PriceCents = *price
			}
			if active != nil {
				p.Active = *active
			}
			it.Product = p
		}
		c.Items = append(c.Items, it)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkOrdered performs the one-way open -> ordered transition.
func (r *CartRepo) MarkOrdered(ctx context.Context, cartID uuid.UUID, sessionID string) (bool, error) {
	const q = `
UPDATE carts
SET status='ordered', session_id=$2, ordered_at=now(), updated_at=now()
WHERE id=$1 AND status='open'`
	tag, err := r.db.Pool.Exec(ctx, q, cartID, sessionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
