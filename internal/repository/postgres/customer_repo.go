package postgres

import (
	"context"
	"errors"

	"github.com/and161185/rewardvault/internal/errs"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// CustomerRepo implements CustomerRepository using PostgreSQL.
type CustomerRepo struct{ db *DB }

// NewCustomerRepo constructs a customer repository.
func NewCustomerRepo(db *DB) *CustomerRepo { return &CustomerRepo{db: db} }

// GetCustomerRef returns the processor customer id linked to the user.
func (r *CustomerRepo) GetCustomerRef(ctx context.Context, userID uuid.UUID) (string, error) {
	const q = `SELECT customer_ref FROM billing_customers WHERE user_id=$1`
	var ref string
	if err := r.db.Pool.QueryRow(ctx, q, userID).Scan(&ref); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errs.ErrNotFound
		}
		return "", err
	}
	return ref, nil
}

// LinkCustomer records (or refreshes) the user's processor customer id.
func (r *CustomerRepo) LinkCustomer(ctx context.Context, userID uuid.UUID, customerRef string) error {
	const q = `
INSERT INTO billing_customers (user_id, customer_ref, updated_at)
VALUES ($1,$2,now())
ON CONFLICT (user_id) DO UPDATE SET customer_ref=EXCLUDED.customer_ref, updated_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, userID, customerRef)
	if isUniqueViolation(err) {
		// customer_ref is unique: already linked to another user.
		return errs.ErrAlreadyExists
	}
	return err
}
