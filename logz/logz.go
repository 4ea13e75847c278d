// Package logz provides structured JSON logging. Records logged with a
// context carry the active OTel trace_id and span_id, plus the deployment
// the request was routed to.
package logz

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/ai8future/polyguard/httpkit"
)

// New creates a structured JSON logger on stderr at the given level.
// Accepted levels are "debug", "info", "warn", "error" (case-insensitive).
// Unrecognized levels default to "info".
func New(level string) *slog.Logger {
	return NewWriter(os.Stderr, level)
}

// NewWriter is New writing to w.
func NewWriter(w io.Writer, level string) *slog.Logger {
	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(&traceHandler{inner: jsonHandler, base: jsonHandler})
}

// contextAttrs returns the top-level attributes derived from ctx.
func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if dep := httpkit.DeploymentFrom(ctx); dep != "" {
		attrs = append(attrs, slog.String("deployment", dep))
	}
	return attrs
}

// parseLevel converts a level string to a slog.Level.
// Defaults to slog.LevelInfo for unrecognized values.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// traceHandler wraps an slog.Handler and injects the context attributes
// into every log record, when present.
//
// It maintains both the current inner handler (which may have groups/attrs applied)
// and the base handler (without groups) so that trace_id is always emitted at
// the top level of the JSON output.
type traceHandler struct {
	inner  slog.Handler // current handler with groups and attrs applied
	base   slog.Handler // base handler without groups, for top-level trace_id
	groups []string     // accumulated group names for record reconstruction
}

// Enabled delegates to the inner handler.
func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle adds the context attributes to the record before delegating to the
// inner handler. When groups are active the record is rebuilt so those
// attributes stay at the top level while the rest remain nested.
func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	extra := contextAttrs(ctx)
	if len(extra) == 0 {
		return h.inner.Handle(ctx, r)
	}

	if len(h.groups) == 0 {
		r.AddAttrs(extra...)
		return h.inner.Handle(ctx, r)
	}

	// The JSONHandler nests record attrs inside the innermost group, so the
	// record attrs are wrapped in the group hierarchy by hand and emitted
	// through the ungrouped base handler.
	recordAttrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		recordAttrs = append(recordAttrs, a)
		return true
	})

	// Build nested group structure from inside out.
	var grouped slog.Attr
	grouped = slog.Group(h.groups[len(h.groups)-1], attrsToAny(recordAttrs)...)
	for i := len(h.groups) - 2; i >= 0; i-- {
		grouped = slog.Group(h.groups[i], grouped)
	}

	newRecord := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	newRecord.AddAttrs(extra...)
	newRecord.AddAttrs(grouped)

	return h.base.Handle(ctx, newRecord)
}

// WithAttrs returns a new traceHandler wrapping the inner handler's WithAttrs result.
func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// If no groups yet, attrs are top-level and should also be applied to base.
	base := h.base
	if len(h.groups) == 0 {
		base = h.base.WithAttrs(attrs)
	}
	return &traceHandler{
		inner:  h.inner.WithAttrs(attrs),
		base:   base,
		groups: h.groups,
	}
}

// WithGroup returns a new traceHandler wrapping the inner handler's WithGroup result.
func (h *traceHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups[len(h.groups)] = name
	return &traceHandler{
		inner:  h.inner.WithGroup(name),
		base:   h.base,
		groups: newGroups,
	}
}

// attrsToAny converts a slice of slog.Attr to a slice of any for slog.Group.
func attrsToAny(attrs []slog.Attr) []any {
	result := make([]any, len(attrs))
	for i, a := range attrs {
		result[i] = a
	}
	return result
}
