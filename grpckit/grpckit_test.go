package grpckit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	polyguard "github.com/ai8future/polyguard"
	"github.com/ai8future/polyguard/testkit"
)

func TestMain(m *testing.M) {
	polyguard.RequireMajor(1)
	os.Exit(m.Run())
}

const checkMethod = "/grpc.health.v1.Health/Check"

var checkInfo = &grpc.UnaryServerInfo{FullMethod: checkMethod}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log output %q: %v", buf.String(), err)
	}
	return line
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	interceptor := Recovery(newTestLogger(&buf))

	_, err := interceptor(context.Background(), &healthpb.HealthCheckRequest{}, checkInfo,
		func(ctx context.Context, req any) (any, error) { panic("check exploded") })
	if status.Code(err) != codes.Internal {
		t.Fatalf("err = %v, want Internal", err)
	}
	line := logLine(t, &buf)
	if line["level"] != "ERROR" || line["msg"] != "panic recovered" {
		t.Errorf("log = %v", line)
	}
	if line["method"] != checkMethod {
		t.Errorf("method = %v", line["method"])
	}
	if !strings.Contains(buf.String(), "check exploded") {
		t.Errorf("panic value missing from log: %s", buf.String())
	}
}

func TestObserveServingCheck(t *testing.T) {
	exporter := testkit.NewSpanRecorder(t)
	var buf bytes.Buffer
	interceptor := Observe(newTestLogger(&buf))

	resp, err := interceptor(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName}, checkInfo,
		func(ctx context.Context, req any) (any, error) {
			return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.(*healthpb.HealthCheckResponse).GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("resp = %v", resp)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != checkMethod {
		t.Errorf("span name = %q", spans[0].Name)
	}
	attrs := make(map[string]string)
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)] = a.Value.Emit()
	}
	want := map[string]string{
		"rpc.system":           "grpc",
		"rpc.method":           checkMethod,
		attrHealthService:      ServiceName,
		attrHealthStatus:       "SERVING",
		"rpc.grpc.status_code": "0",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("span attr %s = %q, want %q", k, attrs[k], v)
		}
	}

	line := logLine(t, &buf)
	if line["level"] != "INFO" || line["msg"] != "admin RPC" {
		t.Errorf("log = %v", line)
	}
	if line[attrHealthService] != ServiceName || line[attrHealthStatus] != "SERVING" {
		t.Errorf("log missing health tags: %v", line)
	}
	if _, ok := line["duration"]; !ok {
		t.Error("log missing duration")
	}
}

func TestObserveNotServingLogsWarn(t *testing.T) {
	testkit.NewSpanRecorder(t)
	var buf bytes.Buffer
	interceptor := Observe(newTestLogger(&buf))

	_, err := interceptor(context.Background(), &healthpb.HealthCheckRequest{}, checkInfo,
		func(ctx context.Context, req any) (any, error) {
			return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	line := logLine(t, &buf)
	if line["level"] != "WARN" || line[attrHealthStatus] != "NOT_SERVING" {
		t.Errorf("log = %v", line)
	}
}

func TestObserveErrorMarksSpan(t *testing.T) {
	exporter := testkit.NewSpanRecorder(t)
	var buf bytes.Buffer
	interceptor := Observe(newTestLogger(&buf))

	_, err := interceptor(context.Background(), &healthpb.HealthCheckRequest{Service: "other"}, checkInfo,
		func(ctx context.Context, req any) (any, error) {
			return nil, status.Error(codes.NotFound, `unknown service "other"`)
		})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("err = %v, want NotFound", err)
	}

	span := exporter.GetSpans()[0]
	if span.Status.Description != `unknown service "other"` {
		t.Errorf("span status = %+v", span.Status)
	}
	line := logLine(t, &buf)
	if line["level"] != "WARN" || line[attrHealthService] != "other" {
		t.Errorf("log = %v", line)
	}
	if line["error"] == nil {
		t.Error("log missing error")
	}
}

func TestObserveNonHealthRequest(t *testing.T) {
	testkit.NewSpanRecorder(t)
	var buf bytes.Buffer
	interceptor := Observe(newTestLogger(&buf))

	_, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/x.Y/Z"},
		func(ctx context.Context, req any) (any, error) { return nil, errors.New("boom") })
	if err == nil {
		t.Fatal("expected error")
	}
	line := logLine(t, &buf)
	if _, ok := line[attrHealthService]; ok {
		t.Errorf("non-health RPC tagged with %s: %v", attrHealthService, line)
	}
	if line["rpc.grpc.status_code"] != float64(codes.Unknown) {
		t.Errorf("status code = %v", line["rpc.grpc.status_code"])
	}
}
