// Package flagz holds the server's rollout flags. A flag is off, on, or on
// for a percentage of keys; bucketing is stable per flag and key so one
// request id always lands the same way. Evaluations are recorded as span
// events on the active span.
package flagz

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	polyguard "github.com/ai8future/polyguard"
)

// AuditAccepted selects accepted posts that are audited as well as stored.
const AuditAccepted = "audit-accepted"

// Source provides raw flag values by name.
type Source interface {
	Lookup(name string) (value string, ok bool)
}

// Flags evaluates flags from a Source.
type Flags struct {
	source Source
}

// New returns Flags backed by source. Panics if source is nil.
func New(source Source) *Flags {
	polyguard.AssertVersionChecked()
	if source == nil {
		panic("flagz: source must not be nil")
	}
	return &Flags{source: source}
}

// Enabled reports whether the flag is fully on ("true" or "100%").
func (f *Flags) Enabled(name string) bool {
	return f.percent(name) >= 100
}

// Percent returns the share of keys the flag is on for, 0 to 100.
func (f *Flags) Percent(name string) int {
	return f.percent(name)
}

func (f *Flags) percent(name string) int {
	value, ok := f.source.Lookup(name)
	if !ok {
		return 0
	}
	return ParsePercent(value)
}

// EnabledFor reports whether the flag is on for key. A nil Flags is off.
func (f *Flags) EnabledFor(ctx context.Context, name, key string) bool {
	if f == nil {
		return false
	}
	pct := f.percent(name)
	var enabled bool
	switch {
	case pct <= 0:
	case pct >= 100:
		enabled = true
	default:
		enabled = Bucket(name, key) < pct
	}
	addSpanEvent(ctx, name, key, pct, enabled)
	return enabled
}

// ParsePercent reads "true", "false", "N" or "N%" as a percentage. Anything
// else is 0; values outside 0..100 are clamped.
func ParsePercent(value string) int {
	v := strings.TrimSpace(strings.ToLower(value))
	switch v {
	case "true", "on":
		return 100
	case "false", "off", "":
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSuffix(v, "%"))
	if err != nil {
		return 0
	}
	return min(max(n, 0), 100)
}

// Bucket returns the stable bucket (0-99) of key under flag name.
func Bucket(name, key string) int {
	h := fnv.New32a()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(key))
	return int(h.Sum32() % 100)
}

func addSpanEvent(ctx context.Context, name, key string, pct int, enabled bool) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("flag.name", name),
		attribute.Bool("flag.enabled", enabled),
		attribute.Int("flag.percent", pct),
	}
	if key != "" {
		attrs = append(attrs, attribute.String("flag.key", key))
	}
	span.AddEvent("flag.evaluation", trace.WithAttributes(attrs...))
}
