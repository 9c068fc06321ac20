// Package service contains the entitlement writer and the reconciliation orchestrator.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/rewardvault/internal/errs"
	"github.com/and161185/rewardvault/internal/events"
	"github.com/and161185/rewardvault/internal/model"
	"github.com/and161185/rewardvault/internal/repository"
)

// EnsureInput identifies the grant to create.
type EnsureInput struct {
	UserID      uuid.UUID
	ProductID   uuid.UUID
	ProductSlug string
	Metadata    model.Metadata
}

// EnsureResult reports whether this call created the grant.
// Created=false with a non-nil Entitlement is the normal replay/race outcome.
type EnsureResult struct {
	Created     bool
	Entitlement *model.Entitlement
}

// EntitlementWriter is the idempotent creation primitive.
type EntitlementWriter interface {
	// Ensure creates the grant for (UserID, ProductSlug) unless one is already active.
	Ensure(ctx context.Context, in EnsureInput) (EnsureResult, error)
}

// EntitlementService implements EntitlementWriter and the dashboard read surface.
type EntitlementService struct {
	repo repository.EntitlementRepository
	pub  events.Publisher
	log  *zap.Logger
	now  func() time.Time
}

// NewEntitlementService constructs the service. A nil publisher disables events.
func NewEntitlementService(repo repository.EntitlementRepository, pub events.Publisher, log *zap.Logger) *EntitlementService {
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &EntitlementService{repo: repo, pub: pub, log: log, now: time.Now}
}

// Ensure validates input and performs an atomic insert-if-absent.
// Store failures are returned wrapped in errs.ErrStoreUnavailable and are not retried here.
func (s *EntitlementService) Ensure(ctx context.Context, in EnsureInput) (EnsureResult, error) {
	slug := strings.TrimSpace(in.ProductSlug)
	if in.UserID == uuid.Nil || in.ProductID == uuid.Nil || slug == "" {
		return EnsureResult{}, fmt.Errorf("%w: empty userID/productID/slug", errs.ErrValidation)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return EnsureResult{}, err
	}
	now := s.now().UTC()
	meta := in.Metadata.Clone()
	meta["granted_at"] = now.Format(time.RFC3339Nano)

	e := &model.Entitlement{
		ID:          id,
		UserID:      in.UserID,
		ProductID:   in.ProductID,
		ProductSlug: slug,
		AccessType:  model.AccessOneTime,
		Status:      model.EntitlementActive,
		StartsAt:    now,
		Metadata:    meta,
	}

	inserted, stored, err := s.repo.InsertIfAbsent(ctx, e)
	if err != nil {
		return EnsureResult{}, fmt.Errorf("%w: ensure %s: %v", errs.ErrStoreUnavailable, slug, err)
	}
	if !inserted {
		s.log.Debug("entitlement already exists",
			zap.String("user_id", in.UserID.String()),
			zap.String("product_slug", slug),
		)
		return EnsureResult{Created: false, Entitlement: stored}, nil
	}

	s.log.Info("entitlement created",
		zap.String("entitlement_id", stored.ID.String()),
		zap.String("user_id", in.UserID.String()),
		zap.String("product_slug", slug),
	)
	ev := events.NewEvent(events.KeyEntitlementGranted, in.UserID, slug, map[string]any{
		"entitlement_id": stored.ID.String(),
		"product_id":     in.ProductID.String(),
		"source":         meta["source"],
		"session_id":     meta["session_id"],
	})
	if perr := s.pub.Publish(ctx, ev); perr != nil {
		s.log.Warn("publish entitlement.granted", zap.Error(perr))
	}
	return EnsureResult{Created: true, Entitlement: stored}, nil
}

// ListActive returns the user's active packages for the dashboard.
func (s *EntitlementService) ListActive(ctx context.Context, userID uuid.UUID) ([]model.Package, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty userID", errs.ErrValidation)
	}
	out, err := s.repo.ListActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list entitlements: %v", errs.ErrStoreUnavailable, err)
	}
	return out, nil
}

// Revoke ends the user's active grant for slug. Administrative use only.
func (s *EntitlementService) Revoke(ctx context.Context, userID uuid.UUID, slug string) error {
	if userID == uuid.Nil || strings.TrimSpace(slug) == "" {
		return fmt.Errorf("%w: empty userID/slug", errs.ErrValidation)
	}
	if err := s.repo.SetStatus(ctx, userID, slug, model.EntitlementRevoked); err != nil {
		if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: revoke %s: %v", errs.ErrStoreUnavailable, slug, err)
	}
	s.log.Info("entitlement revoked", zap.String("user_id", userID.String()), zap.String("product_slug", slug))
	if perr := s.pub.Publish(ctx, events.NewEvent(events.KeyEntitlementRevoked, userID, slug, nil)); perr != nil {
		s.log.Warn("publish entitlement.revoked", zap.Error(perr))
	}
	return nil
}
