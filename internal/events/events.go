// Package events publishes domain events about entitlement changes.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Routing keys.
const (
	KeyEntitlementGranted = "entitlement.granted"
	KeyEntitlementRevoked = "entitlement.revoked"
)

// Event is the JSON envelope sent to subscribers.
type Event struct {
	ID          uuid.UUID      `json:"id"`
	Type        string         `json:"type"`
	OccurredAt  time.Time      `json:"occurred_at"`
	UserID      uuid.UUID      `json:"user_id"`
	ProductSlug string         `json:"product_slug"`
	Data        map[string]any `json:"data,omitempty"`
}

// NewEvent builds an envelope with a fresh id.
func NewEvent(typ string, userID uuid.UUID, slug string, data map[string]any) Event {
	return Event{
		ID:          uuid.Must(uuid.NewV4()),
		Type:        typ,
		OccurredAt:  time.Now().UTC(),
		UserID:      userID,
		ProductSlug: slug,
		Data:        data,
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events. Used when no broker is configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

func encode(ev Event) ([]byte, error) { return json.Marshal(ev) }
