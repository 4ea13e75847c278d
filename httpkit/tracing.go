package httpkit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	polyguard "github.com/ai8future/polyguard"
	"github.com/ai8future/polyguard/internal/otelutil"
)

const tracerName = "github.com/ai8future/polyguard/httpkit"

var getHTTPDurationHistogram = otelutil.LazyHistogram(
	tracerName,
	"http.server.request.duration",
	metric.WithUnit("s"),
	metric.WithDescription("Duration of HTTP server requests"),
)

// Tracing returns middleware that starts an OpenTelemetry server span per
// request, continuing any trace context found in the headers. Spans of 5xx
// responses are marked as errors. The request duration is recorded in the
// http.server.request.duration histogram.
func Tracing() func(http.Handler) http.Handler {
	polyguard.AssertVersionChecked()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			propagator := otelapi.GetTextMapPropagator()
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			tracer := otelapi.GetTracerProvider().Tracer(tracerName)
			spanName := fmt.Sprintf("%s %s", r.Method, r.URL.Path)

			ctx, span := tracer.Start(ctx, spanName,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))
			duration := time.Since(start).Seconds()

			span.SetAttributes(semconv.HTTPResponseStatusCode(rw.statusCode))
			if rw.statusCode >= 500 {
				span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
			}

			if h := getHTTPDurationHistogram(); h != nil {
				h.Record(ctx, duration,
					metric.WithAttributes(
						semconv.HTTPRequestMethodKey.String(r.Method),
						semconv.HTTPResponseStatusCode(rw.statusCode),
					),
				)
			}
		})
	}
}

// Deployment returns middleware that tags the request with the deployment
// it was routed to: in the context, on the active span, and in the
// X-Polyguard-Deployment response header.
func Deployment(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithDeployment(r.Context(), name)
			trace.SpanFromContext(ctx).SetAttributes(attribute.String("polyguard.deployment", name))
			w.Header().Set("X-Polyguard-Deployment", name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type deploymentKey struct{}

// WithDeployment returns a copy of ctx carrying the deployment name.
func WithDeployment(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, deploymentKey{}, name)
}

// DeploymentFrom returns the deployment name stored by Deployment, or "".
func DeploymentFrom(ctx context.Context) string {
	v, _ := ctx.Value(deploymentKey{}).(string)
	return v
}
