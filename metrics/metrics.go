// Package metrics records polyguard's service metrics through the OTel API
// with a per-metric cap on label combinations. Metrics flow out via OTLP
// push; there is no scrape endpoint.
package metrics

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	polyguard "github.com/ai8future/polyguard"
)

// Histogram buckets.
var (
	DurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	ContentBuckets  = []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000, 1000000}
)

// MaxLabelCombinations is the cardinality cap per metric.
const MaxLabelCombinations = 1000

// Resolution outcomes.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeUnknown = "unknown"
	OutcomeInvalid = "invalid"
)

// Recorder holds the pre-registered instruments of the service.
type Recorder struct {
	prefix          string
	meter           metric.Meter
	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram
	contentSize     metric.Float64Histogram
	resolutions     metric.Int64Counter

	mu             sync.RWMutex
	seenCombos     map[string]map[string]struct{}
	overflowWarned map[string]bool
	logger         *slog.Logger
}

// Option configures a Recorder.
type Option func(*options)

type options struct {
	provider metric.MeterProvider
}

// WithMeterProvider uses mp instead of the global MeterProvider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.provider = mp }
}

// New creates a Recorder. The prefix names the meter and is prepended to
// every metric name. logger may be nil.
func New(prefix string, logger *slog.Logger, opts ...Option) *Recorder {
	polyguard.AssertVersionChecked()
	o := options{provider: otelapi.GetMeterProvider()}
	for _, opt := range opts {
		opt(&o)
	}
	meter := o.provider.Meter(prefix)

	r := &Recorder{
		prefix:         prefix,
		meter:          meter,
		seenCombos:     make(map[string]map[string]struct{}),
		overflowWarned: make(map[string]bool),
		logger:         logger,
	}
	r.requestsTotal = r.mustCounter(prefix+"_requests_total", "Total number of requests.")
	r.resolutions = r.mustCounter(prefix+"_resolutions_total", "Polymorphic type resolutions by deployment and outcome.")
	r.requestDuration = r.mustHistogram(prefix+"_request_duration_seconds", "Request duration in seconds.", DurationBuckets)
	r.contentSize = r.mustHistogram(prefix+"_content_size_bytes", "Request body size in bytes.", ContentBuckets)
	return r
}

func (r *Recorder) mustCounter(name, desc string) metric.Int64Counter {
	c, err := r.meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		otelapi.Handle(err)
	}
	return c
}

func (r *Recorder) mustHistogram(name, desc string, buckets []float64) metric.Float64Histogram {
	h, err := r.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	if err != nil {
		otelapi.Handle(err)
	}
	return h
}

// RecordRequest records one handled request.
func (r *Recorder) RecordRequest(ctx context.Context, deployment, method string, status int, seconds float64, contentLength int64) {
	statusClass := statusClassOf(status)
	if r.checkCardinality("requests_total", deployment+"\x00"+method+"\x00"+statusClass) {
		r.requestsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("deployment", deployment),
			attribute.String("method", method),
			attribute.String("status_class", statusClass),
		))
	}
	if r.checkCardinality("request_duration_seconds", deployment+"\x00"+method) {
		r.requestDuration.Record(ctx, seconds, metric.WithAttributes(
			attribute.String("deployment", deployment),
			attribute.String("method", method),
		))
	}
	if contentLength >= 0 && r.checkCardinality("content_size_bytes", deployment) {
		r.contentSize.Record(ctx, float64(contentLength), metric.WithAttributes(
			attribute.String("deployment", deployment),
		))
	}
}

// RecordResolution counts one resolution attempt. typeID is client
// controlled, so it only becomes a label while the cap has room.
func (r *Recorder) RecordResolution(ctx context.Context, deployment, outcome, typeID string) {
	combo := deployment + "\x00" + outcome + "\x00" + typeID
	attrs := []attribute.KeyValue{
		attribute.String("deployment", deployment),
		attribute.String("outcome", outcome),
	}
	if r.checkCardinality("resolutions_total", combo) {
		attrs = append(attrs, attribute.String("type_id", typeID))
	}
	r.resolutions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func statusClassOf(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

// checkCardinality reports whether combo may be recorded for metricName.
func (r *Recorder) checkCardinality(metricName, combo string) bool {
	r.mu.RLock()
	combos, exists := r.seenCombos[metricName]
	if exists {
		if _, seen := combos[combo]; seen {
			r.mu.RUnlock()
			return true
		}
		if len(combos) >= MaxLabelCombinations {
			r.mu.RUnlock()
			r.warnOnceOverflow(metricName)
			return false
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seenCombos[metricName] == nil {
		r.seenCombos[metricName] = make(map[string]struct{})
	}
	if _, seen := r.seenCombos[metricName][combo]; seen {
		return true
	}
	if len(r.seenCombos[metricName]) >= MaxLabelCombinations {
		return false
	}
	r.seenCombos[metricName][combo] = struct{}{}
	return true
}

func (r *Recorder) warnOnceOverflow(metricName string) {
	r.mu.Lock()
	warned := r.overflowWarned[metricName]
	r.overflowWarned[metricName] = true
	r.mu.Unlock()

	if !warned && r.logger != nil {
		r.logger.Warn("metrics cardinality limit reached, dropping new label combinations",
			"metric", metricName,
			"limit", MaxLabelCombinations,
		)
	}
}

// CounterVec is an Int64Counter with cardinality protection.
type CounterVec struct {
	inner    metric.Int64Counter
	name     string
	recorder *Recorder
}

// Add increments the counter with the given label pairs (key, value, ...).
func (c *CounterVec) Add(ctx context.Context, val int64, labelPairs ...string) {
	if c.recorder.checkCardinality(c.name, strings.Join(pairsToValues(labelPairs), "\x00")) {
		c.inner.Add(ctx, val, metric.WithAttributes(pairsToAttributes(labelPairs)...))
	}
}

// HistogramVec is a Float64Histogram with cardinality protection.
type HistogramVec struct {
	inner    metric.Float64Histogram
	name     string
	recorder *Recorder
}

// Observe records val with the given label pairs.
func (h *HistogramVec) Observe(ctx context.Context, val float64, labelPairs ...string) {
	if h.recorder.checkCardinality(h.name, strings.Join(pairsToValues(labelPairs), "\x00")) {
		h.inner.Record(ctx, val, metric.WithAttributes(pairsToAttributes(labelPairs)...))
	}
}

// Counter registers a custom counter named prefix_name.
func (r *Recorder) Counter(name, desc string) *CounterVec {
	return &CounterVec{inner: r.mustCounter(r.prefix+"_"+name, desc), name: name, recorder: r}
}

// Histogram registers a custom histogram named prefix_name.
func (r *Recorder) Histogram(name, desc string, buckets []float64) *HistogramVec {
	return &HistogramVec{inner: r.mustHistogram(r.prefix+"_"+name, desc, buckets), name: name, recorder: r}
}

func pairsToValues(pairs []string) []string {
	values := make([]string, 0, len(pairs)/2)
	for i := 1; i < len(pairs); i += 2 {
		values = append(values, pairs[i])
	}
	return values
}

func pairsToAttributes(pairs []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		attrs = append(attrs, attribute.String(pairs[i], pairs[i+1]))
	}
	return attrs
}
