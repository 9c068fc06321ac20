// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// AccessType describes how an entitlement was acquired.
type AccessType string

const (
	AccessOneTime      AccessType = "one_time"
	AccessSubscription AccessType = "subscription"
)

// EntitlementStatus is the lifecycle state of an entitlement.
type EntitlementStatus string

const (
	EntitlementActive  EntitlementStatus = "active"
	EntitlementExpired EntitlementStatus = "expired"
	EntitlementRevoked EntitlementStatus = "revoked"
)

// Valid reports whether s is a known status.
func (s EntitlementStatus) Valid() bool {
	switch s {
	case EntitlementActive, EntitlementExpired, EntitlementRevoked:
		return true
	}
	return false
}

// Metadata is free-form annotation attached to an entitlement.
// No business decision may depend on its contents.
type Metadata map[string]any

// Clone returns a shallow copy safe to extend.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+4)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Entitlement is a durable grant of one product to one user.
// At most one active entitlement exists per (UserID, ProductSlug).
type Entitlement struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	ProductID   uuid.UUID
	ProductSlug string // denormalized for uniqueness and display
	AccessType  AccessType
	Status      EntitlementStatus
	StartsAt    time.Time
	EndsAt      *time.Time // nil = unbounded
	Metadata    Metadata
	CreatedAt   time.Time
}

// Package is an active entitlement joined with product details for display.
type Package struct {
	Entitlement
	Name       string
	PriceCents int64
}

// Product is a purchasable package from the catalog.
type Product struct {
	ID         uuid.UUID
	Slug       string
	Name       string
	PriceCents int64
	Active     bool
}
