package httpapi

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"campushub.org/internal/obs"
)

// GRPCHealth publishes storage readiness through the standard gRPC health
// service, for orchestrators that probe over gRPC.
type GRPCHealth struct {
	*health.Server
	readiness readinessChecker
}

// NewGRPCHealth creates the health service with an initial NOT_SERVING status.
func NewGRPCHealth(r readinessChecker) *GRPCHealth {
	if r == nil {
		r = ReadyProbe{}
	}
	h := &GRPCHealth{Server: health.NewServer(), readiness: r}
	h.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Refresh runs one readiness check and updates the published status.
func (h *GRPCHealth) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.readiness.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		obs.Logger().Warn("readiness check failed",
			slog.String("event", "health.not_ready"),
			slog.String("module", "httpapi"),
			slog.String("error", err.Error()),
		)
	}
	h.SetServingStatus(serviceName, status)
	h.SetServingStatus("", status)
	return status
}

// Poll refreshes status every interval until ctx ends, then marks the
// service as shutting down.
func (h *GRPCHealth) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	h.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-t.C:
			h.Refresh(ctx)
		}
	}
}
