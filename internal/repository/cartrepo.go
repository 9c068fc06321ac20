package repository

import (
	"context"

	"github.com/and161185/rewardvault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// CartRepository reads cart snapshots and performs the checkout transition.
type CartRepository interface {
	// GetSnapshot loads the cart with its line items and resolved products.
	GetSnapshot(ctx context.Context, cartID uuid.UUID) (*model.Cart, error)

	// MarkOrdered moves an open cart to ordered. It reports false when the cart
	// was not open (already ordered by a concurrent pass).
	MarkOrdered(ctx context.Context, cartID uuid.UUID, sessionID string) (bool, error)
}

// CustomerRepository maps users to payment processor customers.
type CustomerRepository interface {
	// GetCustomerRef returns the processor customer id for the user.
	GetCustomerRef(ctx context.Context, userID uuid.UUID) (string, error)

	// LinkCustomer records the processor customer id for the user.
	LinkCustomer(ctx context.Context, userID uuid.UUID, customerRef string) error
}
