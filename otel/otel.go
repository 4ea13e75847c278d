// Package otel bootstraps the OpenTelemetry trace and metric pipelines of
// the polyguard server. It is the only SDK consumer; every other package
// depends on the OTel API alone.
package otel

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	polyguard "github.com/ai8future/polyguard"
)

// Config configures the OpenTelemetry bootstrap.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string           // OTLP gRPC endpoint, defaults to localhost:4317
	Sampler        sdktrace.Sampler // defaults to AlwaysSample
	MetricInterval time.Duration    // defaults to 30s
}

// ShutdownFunc drains and closes all OTel providers.
type ShutdownFunc func(ctx context.Context) error

// AlwaysSample returns a sampler that samples every trace.
func AlwaysSample() sdktrace.Sampler {
	return sdktrace.AlwaysSample()
}

// RatioSample returns a parent-based sampler that samples a fraction of
// root traces.
func RatioSample(fraction float64) sdktrace.Sampler {
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(fraction))
}

// Init installs global trace and meter providers exporting over OTLP gRPC,
// plus the W3C trace context and baggage propagators. A pipeline whose
// exporter cannot be built is skipped so the service still starts.
func Init(cfg Config) ShutdownFunc {
	polyguard.AssertVersionChecked()

	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.Sampler == nil {
		cfg.Sampler = sdktrace.AlwaysSample()
	}
	if cfg.MetricInterval <= 0 {
		cfg.MetricInterval = 30 * time.Second
	}

	ctx := context.Background()

	res, _ := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	var shutdowns []func(context.Context) error

	if exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	); err == nil {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(cfg.Sampler),
		)
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	if exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithInsecure(),
	); err == nil {
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(cfg.MetricInterval),
			)),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	}

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		var errs []error
		for _, fn := range shutdowns {
			errs = append(errs, fn(shutdownCtx))
		}
		return errors.Join(errs...)
	}
}

// DetachContext returns a context.Background() carrying the SpanContext of
// ctx. Cancellation is detached and trace correlation is kept, for work
// such as audit publishing that must outlive the request.
func DetachContext(ctx context.Context) context.Context {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return context.Background()
	}
	return trace.ContextWithSpanContext(context.Background(), spanCtx)
}
