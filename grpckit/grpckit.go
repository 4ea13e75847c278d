// Package grpckit serves polyguard's admin gRPC endpoint: the standard
// health service behind a recovery interceptor and an observing interceptor
// that traces, times and logs each health check.
package grpckit

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	polyguard "github.com/ai8future/polyguard"
	"github.com/ai8future/polyguard/internal/otelutil"
)

const tracerName = "github.com/ai8future/polyguard/grpckit"

// Span, metric and log attribute keys.
const (
	attrHealthService = "health.service"
	attrHealthStatus  = "health.status"
	attrFailingChecks = "health.failing_checks"
)

var getRPCDurationHistogram = otelutil.LazyHistogram(
	tracerName,
	"rpc.server.duration",
	metric.WithUnit("s"),
	metric.WithDescription("Duration of admin gRPC requests"),
)

// ServerOptions returns the interceptor chain used by the admin server.
// Only unary RPCs are served; the health Watch stream is unimplemented.
func ServerOptions(logger *slog.Logger) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(Recovery(logger), Observe(logger)),
	}
}

// Recovery turns a panic in the handler into codes.Internal and logs the
// stack at Error level.
func Recovery(logger *slog.Logger) grpc.UnaryServerInterceptor {
	polyguard.AssertVersionChecked()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.LogAttrs(ctx, slog.LevelError, "panic recovered",
					slog.String("method", info.FullMethod),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// Observe starts a server span parented on the caller's W3C trace context,
// records rpc.server.duration and logs one line per RPC. Health requests and
// responses tag all three with the requested service and the answered
// status. Failures and NOT_SERVING answers log at Warn.
func Observe(logger *slog.Logger) grpc.UnaryServerInterceptor {
	polyguard.AssertVersionChecked()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		attrs := []attribute.KeyValue{
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.method", info.FullMethod),
		}
		if hr, ok := req.(*healthpb.HealthCheckRequest); ok {
			attrs = append(attrs, attribute.String(attrHealthService, hr.GetService()))
		}

		ctx = extractTraceContext(ctx)
		ctx, span := otelapi.GetTracerProvider().Tracer(tracerName).Start(ctx, info.FullMethod,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start)

		code := status.Code(err)
		n := len(attrs)
		attrs = append(attrs, attribute.Int("rpc.grpc.status_code", int(code)))
		level := slog.LevelInfo
		if hr, ok := resp.(*healthpb.HealthCheckResponse); ok {
			attrs = append(attrs, attribute.String(attrHealthStatus, hr.GetStatus().String()))
			if hr.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				level = slog.LevelWarn
			}
		}
		span.SetAttributes(attrs[n:]...)
		if err != nil {
			span.SetStatus(otelcodes.Error, status.Convert(err).Message())
			level = slog.LevelWarn
		}

		if h := getRPCDurationHistogram(); h != nil {
			h.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
		}

		logAttrs := make([]slog.Attr, 0, len(attrs)+2)
		for _, kv := range attrs[1:] {
			logAttrs = append(logAttrs, slog.Any(string(kv.Key), kv.Value.AsInterface()))
		}
		logAttrs = append(logAttrs, slog.Duration("duration", elapsed))
		if err != nil {
			logAttrs = append(logAttrs, slog.String("error", err.Error()))
		}
		logger.LogAttrs(ctx, level, "admin RPC", logAttrs...)
		return resp, err
	}
}

// metadataCarrier lets the OTel propagator read traceparent from incoming
// gRPC metadata.
type metadataCarrier metadata.MD

func (c metadataCarrier) Get(key string) string {
	if vals := metadata.MD(c).Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func (c metadataCarrier) Set(key, value string) { metadata.MD(c).Set(key, value) }

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func extractTraceContext(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	return otelapi.GetTextMapPropagator().Extract(ctx, metadataCarrier(md))
}
