// Package httpserver exposes the webhook, dashboard and operator endpoints over HTTP.
package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/rewardvault/internal/auth"
	"github.com/and161185/rewardvault/internal/model"
	"github.com/and161185/rewardvault/internal/trigger"
)

// PackageLister is the dashboard read surface.
type PackageLister interface {
	ListActive(ctx context.Context, userID uuid.UUID) ([]model.Package, error)
}

// WebhookHandler processes payment processor deliveries.
type WebhookHandler interface {
	Handle(ctx context.Context, payload []byte, signature string) (trigger.WebhookResult, error)
}

// Syncer reconciles the caller's own sessions.
type Syncer interface {
	Sync(ctx context.Context, userID uuid.UUID, sessionID string) (trigger.SyncResult, error)
}

// Recoverer runs operator recovery scans.
type Recoverer interface {
	Run(ctx context.Context, opts trigger.RecoveryOptions) (trigger.RecoveryReport, error)
}

// TokenVerifier authenticates bearer tokens.
type TokenVerifier interface {
	Verify(tok string) (auth.Principal, error)
}

// Pinger reports store reachability for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the router dispatches to.
type Deps struct {
	Packages PackageLister
	Webhooks WebhookHandler
	Sync     Syncer
	Recovery Recoverer
	Tokens   TokenVerifier
	Store    Pinger
}

type handler struct {
	packages PackageLister
	webhooks WebhookHandler
	sync     Syncer
	recovery Recoverer
	tokens   TokenVerifier
	store    Pinger
	log      *zap.Logger
}

// NewRouter builds the HTTP handler tree.
func NewRouter(d Deps, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{
		packages: d.Packages,
		webhooks: d.Webhooks,
		sync:     d.Sync,
		recovery: d.Recovery,
		tokens:   d.Tokens,
		store:    d.Store,
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(recoverMiddleware(log))
	r.Use(loggingMiddleware(log))

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)

	r.Post("/webhooks/stripe", h.stripeWebhook)

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.authMiddleware)
		r.Get("/me/packages", h.listPackages)
		r.Post("/me/packages/sync", h.syncPackages)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/admin/recovery", h.runRecovery)
		})
	})
	return r
}
