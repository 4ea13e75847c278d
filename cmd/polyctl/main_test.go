package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	polyguard "github.com/ai8future/polyguard"
	"github.com/ai8future/polyguard/deploy"
	"github.com/ai8future/polyguard/polytype"
	"github.com/ai8future/polyguard/server"
	"github.com/ai8future/polyguard/store"
	"github.com/ai8future/polyguard/testkit"
	"github.com/ai8future/polyguard/vehicles/catalog"
	"github.com/ai8future/polyguard/vehicles/sea"
)

func TestMain(m *testing.M) {
	polyguard.RequireMajor(1)
	os.Exit(m.Run())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var b bytes.Buffer
	cmd.SetOut(&b)
	cmd.SetErr(&b)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return b.String(), err
}

func startServer(t *testing.T) string {
	t.Helper()
	seaPrefix := catalog.PackagePrefix(sea.NewWatercraft())
	testkit.SetEnv(t, map[string]string{
		polytype.EnvAllowIfBaseTypePrefix: seaPrefix,
		polytype.EnvAllowIfSubTypePrefix:  seaPrefix,
	})
	db, err := store.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := server.New(deploy.Default(), server.Options{Store: db, Logger: testkit.NewLogger(t)})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "polyctl version "+polyguard.Version) {
		t.Errorf("output = %q", out)
	}
}

func TestPostDenied(t *testing.T) {
	url := startServer(t)
	out, err := execute(t, "--url", url, "post", "--vehicle", "aircraft")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if !strings.Contains(out, "Response code: 400") || !strings.Contains(out, "denied resolution") {
		t.Errorf("output = %q", out)
	}
}

func TestPostUnknownKind(t *testing.T) {
	if _, err := execute(t, "--url", "http://127.0.0.1:1", "post", "--vehicle", "bicycle"); err == nil {
		t.Error("expected error for unknown vehicle kind")
	}
}

func TestScenarios(t *testing.T) {
	url := startServer(t)
	out, err := execute(t, "--url", url, "scenarios")
	if err != nil {
		t.Fatalf("scenarios: %v\n%s", err, out)
	}
	if strings.Count(out, "PASS") != 3 {
		t.Errorf("output = %q", out)
	}
}

func TestScenariosFailAgainstWrongServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	out, err := execute(t, "--url", srv.URL, "scenarios")
	if err == nil {
		t.Fatalf("expected failure, output %q", out)
	}
	if !strings.Contains(out, "FAIL") {
		t.Errorf("output = %q", out)
	}
}
