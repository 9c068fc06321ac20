package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/rewardvault/internal/config"
	"github.com/and161185/rewardvault/internal/events"
	"github.com/and161185/rewardvault/internal/model"
	stripepay "github.com/and161185/rewardvault/internal/payments/stripe"
	"github.com/and161185/rewardvault/internal/repository/postgres"
	"github.com/and161185/rewardvault/internal/service"
	"github.com/and161185/rewardvault/internal/trigger"
)

type recoverer interface {
	Run(ctx context.Context, opts trigger.RecoveryOptions) (trigger.RecoveryReport, error)
	Replay(ctx context.Context, sessionID string) (trigger.RecoveryEntry, error)
}

type entitlementAdmin interface {
	Ensure(ctx context.Context, in service.EnsureInput) (service.EnsureResult, error)
	Revoke(ctx context.Context, userID uuid.UUID, slug string) error
	ListActive(ctx context.Context, userID uuid.UUID) ([]model.Package, error)
}

// backend is what the store-facing commands operate on.
type backend struct {
	recovery     recoverer
	entitlements entitlementAdmin
	close        func()
}

type app struct {
	cfg  *config.Config
	log  *zap.Logger
	open func(ctx context.Context, a *app) (*backend, error)
}

func newApp() *app {
	return &app{open: openBackend}
}

// init loads configuration once, before any subcommand runs.
func (a *app) init(verbose bool) error {
	if a.cfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.log == nil {
		var err error
		if verbose {
			a.log, err = zap.NewDevelopment()
		} else {
			a.log, err = zap.NewProduction()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// openBackend wires the same components the server uses. Events go to the
// broker when one is configured so operator grants reach subscribers too.
func openBackend(ctx context.Context, a *app) (*backend, error) {
	db, err := postgres.New(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	var pub events.Publisher = events.Nop{}
	closePub := func() {}
	if a.cfg.RabbitMQURL != "" {
		rp, err := events.DialRabbitMQ(a.cfg.RabbitMQURL, a.log)
		if err != nil {
			a.log.Warn("rabbitmq unavailable, events disabled", zap.Error(err))
		} else {
			pub = rp
			closePub = func() { _ = rp.Close() }
		}
	}

	entSvc := service.NewEntitlementService(postgres.NewEntitlementRepo(db), pub, a.log)
	rec := service.NewReconciler(postgres.NewCartRepo(db), entSvc, a.log, a.cfg.WriteAttempts)
	proc := stripepay.NewClient(a.cfg.StripeAPIKey, stripepay.BreakerSettings{}, a.log)

	return &backend{
		recovery: trigger.NewRecovery(proc, rec, trigger.RecoveryDefaults{
			Lookback:         a.cfg.RecoveryLookback,
			Limit:            a.cfg.RecoveryLimit,
			Concurrency:      a.cfg.RecoveryConcurrency,
			ProcessorTimeout: a.cfg.ProcessorTimeout,
		}, a.log),
		entitlements: entSvc,
		close: func() {
			closePub()
			db.Close()
		},
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
