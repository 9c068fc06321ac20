// Package convert maps domain values to the JSON shapes served by the API and CLI.
package convert

import (
	"time"

	"github.com/and161185/rewardvault/internal/model"
	"github.com/and161185/rewardvault/internal/trigger"
)

// --- helpers ---

func ts(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// --- Packages ---

// Package is one active entitlement as shown on the dashboard.
type Package struct {
	ID          string         `json:"id"`
	ProductID   string         `json:"product_id"`
	ProductSlug string         `json:"product_slug"`
	Name        string         `json:"name"`
	PriceCents  int64          `json:"price_cents"`
	AccessType  string         `json:"access_type"`
	Status      string         `json:"status"`
	StartsAt    *time.Time     `json:"starts_at,omitempty"`
	EndsAt      *time.Time     `json:"ends_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ToPackage converts a domain package.
func ToPackage(p model.Package) Package {
	out := Package{
		ID:          p.ID.String(),
		ProductID:   p.ProductID.String(),
		ProductSlug: p.ProductSlug,
		Name:        p.Name,
		PriceCents:  p.PriceCents,
		AccessType:  string(p.AccessType),
		Status:      string(p.Status),
		StartsAt:    ts(p.StartsAt),
		Metadata:    p.Metadata,
	}
	if p.EndsAt != nil {
		out.EndsAt = ts(*p.EndsAt)
	}
	return out
}

// ToPackages converts a list, never returning nil.
func ToPackages(in []model.Package) []Package {
	out := make([]Package, 0, len(in))
	for _, p := range in {
		out = append(out, ToPackage(p))
	}
	return out
}

// --- Reconcile reports ---

// ItemResult is the per-line-item outcome.
type ItemResult struct {
	ProductID   string `json:"product_id"`
	ProductSlug string `json:"product_slug,omitempty"`
	Created     bool   `json:"created"`
	Error       string `json:"error,omitempty"`
}

// Report is a reconcile pass outcome.
type Report struct {
	SessionID           string       `json:"session_id"`
	UserID              string       `json:"user_id"`
	CartID              string       `json:"cart_id"`
	Outcome             string       `json:"outcome"`
	EntitlementsCreated int          `json:"entitlements_created"`
	CartTransitioned    bool         `json:"cart_transitioned"`
	CartError           string       `json:"cart_error,omitempty"`
	Results             []ItemResult `json:"results"`
}

// ToReport converts a reconcile report.
func ToReport(r model.ReconcileReport) Report {
	out := Report{
		SessionID:           r.SessionID,
		UserID:              r.UserID.String(),
		CartID:              r.CartID.String(),
		Outcome:             r.Outcome(),
		EntitlementsCreated: r.EntitlementsCreated,
		CartTransitioned:    r.CartTransitioned,
		CartError:           errString(r.CartErr),
		Results:             make([]ItemResult, 0, len(r.Results)),
	}
	for _, it := range r.Results {
		out.Results = append(out.Results, ItemResult{
			ProductID:   it.ProductID.String(),
			ProductSlug: it.ProductSlug,
			Created:     it.Created,
			Error:       errString(it.Err),
		})
	}
	return out
}

// --- Sync ---

// Sync is the user-sync response body.
type Sync struct {
	Throttled           bool     `json:"throttled"`
	RetryAfterSeconds   int      `json:"retry_after_seconds,omitempty"`
	SessionsScanned     int      `json:"sessions_scanned"`
	EntitlementsCreated int      `json:"entitlements_created"`
	Reports             []Report `json:"reports,omitempty"`
}

// ToSync converts a sync result.
func ToSync(r trigger.SyncResult) Sync {
	out := Sync{
		Throttled:           r.Throttled,
		SessionsScanned:     r.SessionsScanned,
		EntitlementsCreated: r.EntitlementsCreated,
	}
	if r.RetryAfter > 0 {
		out.RetryAfterSeconds = int((r.RetryAfter + time.Second - 1) / time.Second)
	}
	for _, rep := range r.Reports {
		out.Reports = append(out.Reports, ToReport(rep))
	}
	return out
}
