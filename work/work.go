// Package work fans a batch of independent tasks out over a bounded number of
// goroutines, with one OTel span per batch and per item.
package work

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	polyguard "github.com/ai8future/polyguard"
)

const tracerName = "github.com/ai8future/polyguard/work"

// Option configures Map.
type Option func(*config)

type config struct {
	workers int
}

func defaults() config {
	return config{workers: runtime.NumCPU()}
}

// Workers sets the maximum concurrency level. Values less than 1 are clamped to 1.
func Workers(n int) Option {
	return func(c *config) { c.workers = max(1, n) }
}

// Errors collects per-item failures from Map.
type Errors struct {
	Failures []Failure
}

// Failure records the index and error of a single failed item.
type Failure struct {
	Index int
	Err   error
}

func (e *Errors) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("item %d failed: %v", e.Failures[0].Index, e.Failures[0].Err)
	}
	return fmt.Sprintf("%d item(s) failed", len(e.Failures))
}

// Unwrap returns the underlying errors for use with errors.Is / errors.As.
func (e *Errors) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Err
	}
	return out
}

// Map applies fn to each item with bounded concurrency. Results are returned
// in input order. Items not yet started when ctx is cancelled fail with
// ctx.Err(). If any items fail, Map returns *Errors with all failures
// alongside the partial results.
func Map[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), opts ...Option) ([]R, error) {
	polyguard.AssertVersionChecked()
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	tracer := otelapi.GetTracerProvider().Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "work.Map", trace.WithAttributes(
		attribute.Int("work.total", len(items)),
		attribute.Int("work.workers", cfg.workers),
	))
	defer span.End()

	results := make([]R, len(items))
	errs := make([]error, len(items))

	sem := make(chan struct{}, cfg.workers)
	var wg sync.WaitGroup

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		select {
		case <-ctx.Done():
			errs[i] = ctx.Err()
			continue
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			childCtx, childSpan := tracer.Start(ctx, "work.Map.item",
				trace.WithAttributes(attribute.Int("work.index", i)),
			)
			defer childSpan.End()

			val, err := fn(childCtx, item)
			results[i] = val
			errs[i] = err
			if err != nil {
				childSpan.RecordError(err)
			}
		}()
	}

	wg.Wait()

	var failures []Failure
	for i, err := range errs {
		if err != nil {
			failures = append(failures, Failure{Index: i, Err: err})
		}
	}

	span.SetAttributes(
		attribute.Int("work.succeeded", len(items)-len(failures)),
		attribute.Int("work.failed", len(failures)),
	)

	if len(failures) > 0 {
		return results, &Errors{Failures: failures}
	}
	return results, nil
}
