// Command rewardvault-server serves the payment webhook, dashboard and operator APIs.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/rewardvault/internal/auth"
	"github.com/and161185/rewardvault/internal/config"
	"github.com/and161185/rewardvault/internal/events"
	"github.com/and161185/rewardvault/internal/limiter"
	"github.com/and161185/rewardvault/internal/migrate"
	stripepay "github.com/and161185/rewardvault/internal/payments/stripe"
	"github.com/and161185/rewardvault/internal/repository/postgres"
	grpcserver "github.com/and161185/rewardvault/internal/server/grpc"
	httpserver "github.com/and161185/rewardvault/internal/server/http"
	"github.com/and161185/rewardvault/internal/service"
	"github.com/and161185/rewardvault/internal/trigger"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTPAddr),
		zap.String("grpc", cfg.GRPCAddr),
	)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
	}

	// Store handle shared by every repository.
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres.New", zap.Error(err))
	}
	defer db.Close()
	if err := db.Ping(ctx); err != nil {
		logger.Fatal("ping database", zap.Error(err))
	}

	entRepo := postgres.NewEntitlementRepo(db)
	cartRepo := postgres.NewCartRepo(db)
	custRepo := postgres.NewCustomerRepo(db)

	pub, closePub := newPublisher(cfg, logger)
	defer closePub()
	throttle, closeThrottle := newThrottle(ctx, cfg, db, logger)
	defer closeThrottle()

	processor := stripepay.NewClient(cfg.StripeAPIKey, stripepay.BreakerSettings{}, logger)
	verifier := stripepay.NewVerifier(cfg.StripeWebhookSecret, stripepay.DefaultTolerance)

	// Services
	entSvc := service.NewEntitlementService(entRepo, pub, logger)
	reconciler := service.NewReconciler(cartRepo, entSvc, logger, cfg.WriteAttempts)

	// Trigger adapters
	webhooks := trigger.NewPaymentEvents(verifier, reconciler, custRepo, logger)
	userSync := trigger.NewUserSync(processor, custRepo, reconciler, throttle, trigger.SyncOptions{
		Lookback:         cfg.SyncLookback,
		Limit:            cfg.SyncLimit,
		ProcessorTimeout: cfg.ProcessorTimeout,
	}, logger)
	recovery := trigger.NewRecovery(processor, reconciler, trigger.RecoveryDefaults{
		Lookback:         cfg.RecoveryLookback,
		Limit:            cfg.RecoveryLimit,
		Concurrency:      cfg.RecoveryConcurrency,
		ProcessorTimeout: cfg.ProcessorTimeout,
	}, logger)

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpserver.NewRouter(httpserver.Deps{
			Packages: entSvc,
			Webhooks: webhooks,
			Sync:     userSync,
			Recovery: recovery,
			Tokens:   auth.NewVerifier([]byte(cfg.JWTSigningKey)),
			Store:    db,
		}, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	gs, health := grpcserver.New(db, cfg.IsDevelopment(), logger)
	go health.Watch(ctx, 15*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		errCh <- gs.Serve(lis)
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		done := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			gs.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func newLogger(cfg *config.Config) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if cfg.IsDevelopment() {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return l
}

// newPublisher connects to RabbitMQ when configured. Events are best effort,
// so a broker outage at startup downgrades to the no-op publisher.
func newPublisher(cfg *config.Config, log *zap.Logger) (events.Publisher, func()) {
	if cfg.RabbitMQURL == "" {
		return events.Nop{}, func() {}
	}
	p, err := events.DialRabbitMQ(cfg.RabbitMQURL, log)
	if err != nil {
		log.Warn("rabbitmq unavailable, events disabled", zap.Error(err))
		return events.Nop{}, func() {}
	}
	return p, func() { _ = p.Close() }
}

// newThrottle prefers Redis and falls back to the sync_throttle table.
func newThrottle(ctx context.Context, cfg *config.Config, db *postgres.DB, log *zap.Logger) (limiter.Throttle, func()) {
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Warn("invalid REDIS_URL, using postgres throttle", zap.Error(err))
		} else {
			rc := redis.NewClient(opt)
			if err := rc.Ping(ctx).Err(); err == nil {
				log.Info("sync throttle on redis")
				return limiter.NewRedis(rc, cfg.SyncThrottle), func() { _ = rc.Close() }
			}
			log.Warn("redis not available, using postgres throttle", zap.Error(err))
			_ = rc.Close()
		}
	}

	pg := limiter.NewPG(db.Pool, cfg.SyncThrottle)
	pruneCtx, cancel := context.WithCancel(ctx)
	go func() {
		t := time.NewTicker(time.Hour)
		defer t.Stop()
		for {
			select {
			case <-pruneCtx.Done():
				return
			case <-t.C:
				if n, err := pg.Prune(pruneCtx); err != nil {
					log.Warn("prune sync throttle", zap.Error(err))
				} else if n > 0 {
					log.Debug("pruned sync throttle", zap.Int64("rows", n))
				}
			}
		}
	}()
	return pg, cancel
}
