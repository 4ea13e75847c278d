// Package testkit holds test helpers shared by polyguard packages: a logger
// bound to testing.TB, environment overrides, free ports and an in-memory
// span recorder.
package testkit

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"testing"

	otelapi "go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testWriter is an io.Writer that forwards all writes to testing.TB.Log.
type testWriter struct {
	t testing.TB
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// NewLogger returns a *slog.Logger that writes JSON to t.Log at Debug level,
// so log lines only show up for failing tests or with -v.
func NewLogger(t testing.TB) *slog.Logger {
	t.Helper()
	w := &testWriter{t: t}
	handler := slog.NewJSONHandler(io.Writer(w), &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return slog.New(handler)
}

// SetEnv sets the supplied environment variables and restores their previous
// state when the test ends. Pair it with config.MustLoad or a server that
// reads process-level whitelist settings.
//
//	testkit.SetEnv(t, map[string]string{"HTTP_PORT": "8080"})
//	cfg := config.MustLoad[server.Config]()
func SetEnv(t testing.TB, envs map[string]string) {
	t.Helper()
	type prev struct {
		value string
		ok    bool
	}
	saved := make(map[string]prev, len(envs))
	for k, v := range envs {
		old, ok := os.LookupEnv(k)
		saved[k] = prev{old, ok}
		os.Setenv(k, v)
	}
	t.Cleanup(func() {
		for k, p := range saved {
			if p.ok {
				os.Setenv(k, p.value)
			} else {
				os.Unsetenv(k)
			}
		}
	})
}

// GetFreePort asks the OS for an available TCP port by listening on :0, then
// closes the listener and returns the assigned port.
func GetFreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port, nil
}

// NewSpanRecorder installs a synchronous in-memory TracerProvider as the
// global provider and restores the previous one when the test ends.
func NewSpanRecorder(t testing.TB) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otelapi.GetTracerProvider()
	otelapi.SetTracerProvider(tp)
	t.Cleanup(func() {
		otelapi.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}
