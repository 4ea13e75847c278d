package grpckit

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	polyguard "github.com/ai8future/polyguard"
	"github.com/ai8future/polyguard/health"
)

// ServiceName is the service name answered by the health service besides
// the empty overall name.
const ServiceName = "polyguard"

// RegisterHealth registers a grpc.health.v1.Health service on server. Check
// runs every named check through health.All and answers SERVING only when
// all pass. Failing check names go on the active span under
// health.failing_checks and into a Warn log line. Service names other than ""
// and ServiceName are NotFound.
func RegisterHealth(server *grpc.Server, logger *slog.Logger, checks map[string]health.Check) {
	polyguard.AssertVersionChecked()
	healthpb.RegisterHealthServer(server, &healthServer{logger: logger, run: health.All(checks)})
}

type healthServer struct {
	healthpb.UnimplementedHealthServer
	logger *slog.Logger
	run    func(ctx context.Context) ([]health.Result, error)
}

func (h *healthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != ServiceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	results, err := h.run(ctx)
	if err == nil {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
	}

	var failing []string
	for _, r := range results {
		if !r.Healthy {
			failing = append(failing, r.Name)
		}
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.StringSlice(attrFailingChecks, failing))
	h.logger.LogAttrs(ctx, slog.LevelWarn, "health checks failing",
		slog.String(attrHealthService, req.GetService()),
		slog.Any(attrFailingChecks, failing),
		slog.String("error", err.Error()),
	)
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
}
