package server

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"circlefi/native/lending"
)

// HealthService is the gRPC service name reported by the health server.
const HealthService = "circlefi.pool.v1.Pool"

// Health publishes the pool's serving status over the standard gRPC health
// protocol. The pool is NOT_SERVING while its accounting invariants fail.
type Health struct {
	engine *lending.Engine
	server *health.Server
	logger *slog.Logger
}

// NewHealth returns a health reporter for engine.
func NewHealth(engine *lending.Engine, logger *slog.Logger) *Health {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Health{engine: engine, server: health.NewServer(), logger: logger}
	h.Check()
	return h
}

// GRPCServer builds a gRPC server exposing only the health service.
func (h *Health) GRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(otelgrpc.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(otelgrpc.StreamServerInterceptor()),
	}, opts...)
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, h.server)
	return srv
}

// Check re-evaluates the invariants and updates the serving status.
func (h *Health) Check() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.engine.CheckInvariants(); err != nil {
		h.logger.Error("pool invariants violated", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(HealthService, status)
	return status
}

// Run re-checks every interval until ctx is done, then marks the service
// as shutting down.
func (h *Health) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Check()
		}
	}
}
