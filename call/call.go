// Package call is the outbound HTTP client used by the test driver. Every
// request gets a client span and W3C trace headers, and a per-request
// deadline when the caller did not set one. Requests are never retried: a
// denied resolution must be observed exactly once.
package call

import (
	"context"
	"io"
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
	"github.com/ai8future/polyguard/work"
)

const tracerName = "github.com/ai8future/polyguard/call"

// DefaultTimeout bounds a request whose context carries no deadline.
const DefaultTimeout = 30 * time.Second

var getClientDurationHistogram = otelutil.LazyHistogram(
	tracerName,
	"http.client.request.duration",
	metric.WithUnit("s"),
	metric.WithDescription("Duration of outbound HTTP requests"),
)

// cancelBody defers the request context's cancel until the caller closes
// the response body, so the body stays readable after Do returns.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// Client wraps an http.Client with tracing and a default timeout.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// New creates a Client with the given options applied.
func New(opts ...Option) *Client {
	polyguard.AssertVersionChecked()
	c := &Client{
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	c.httpClient.Timeout = c.timeout
	return c
}

// WithTimeout sets the maximum duration of a single request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying http.Client. Its Timeout is
// overwritten by the configured timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// Do sends req once. If req's context has no deadline one is added using
// the configured timeout and released when the response body is closed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	tracer := otelapi.GetTracerProvider().Tracer(tracerName)
	ctx, span := tracer.Start(ctx, req.Method+" "+req.URL.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(req.Method),
			attribute.String("url.full", req.URL.String()),
			attribute.String("server.address", req.URL.Host),
		),
	)
	req = req.WithContext(ctx)
	otelapi.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	status := 0
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		status = resp.StatusCode
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
		if status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
	span.End()

	if h := getClientDurationHistogram(); h != nil {
		h.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.HTTPResponseStatusCode(status),
		))
	}

	if cancel != nil {
		if err != nil {
			cancel()
		} else {
			resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
		}
	}
	return resp, err
}

// Batch sends reqs concurrently through Do and returns the responses in
// input order. Failed requests leave a nil response and are reported in the
// returned *work.Errors. Callers must close every non-nil response body.
func (c *Client) Batch(ctx context.Context, reqs []*http.Request, opts ...work.Option) ([]*http.Response, error) {
	return work.Map(ctx, reqs, func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return c.Do(req.WithContext(ctx))
	}, opts...)
}
