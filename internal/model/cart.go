package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// CartStatus is the checkout state of a cart. The only transition is open -> ordered.
type CartStatus string

const (
	CartOpen    CartStatus = "open"
	CartOrdered CartStatus = "ordered"
)

// CartItem is a line item as seen at reconciliation time.
type CartItem struct {
	ProductID uuid.UUID
	Quantity  int
	AddedAt   time.Time
	Product   *Product // nil when the product no longer exists
}

// Cart is a snapshot of a user's cart and its line items.
type Cart struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Status    CartStatus
	SessionID string // checkout session that ordered the cart, empty while open
	Items     []CartItem
	CreatedAt time.Time
}
