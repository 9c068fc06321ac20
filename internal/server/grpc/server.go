// Package grpcserver runs the gRPC listener that publishes service health.
package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health entry tracking the reconciliation service.
const ServiceName = "rewardvault.Reconciler"

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health keeps the standard health service in step with the store.
type Health struct {
	srv   *health.Server
	store Pinger
	log   *zap.Logger
}

// New builds a gRPC server with health registered and reflection when dev is set.
func New(store Pinger, dev bool, log *zap.Logger) (*grpc.Server, *Health) {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			LoggingUnary(log),
		),
	)
	h := &Health{srv: health.NewServer(), store: store, log: log}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, h.srv)
	if dev {
		reflection.Register(s)
	}
	return s, h
}

// Check pings the store once and publishes the result.
func (h *Health) Check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.store.Ping(pctx); err != nil {
		h.log.Warn("health: store ping failed", zap.Error(err))
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Watch re-checks every interval until ctx ends, then marks the service down.
func (h *Health) Watch(ctx context.Context, interval time.Duration) {
	h.Check(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-t.C:
			h.Check(ctx)
		}
	}
}

func (h *Health) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(ServiceName, st)
}
