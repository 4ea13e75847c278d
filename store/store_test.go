package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	polyguard "github.com/ai8future/polyguard"
	"github.com/ai8future/polyguard/internal/ids"
)

func TestMain(m *testing.M) {
	polyguard.RequireMajor(1)
	os.Exit(m.Run())
}

func openMemory(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openMemory(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	saved, err := s.Save(ctx, Record{
		Deployment: "whitelist",
		TypeID:     "example.com/land.Automobile",
		Label:      "Automobile",
		Body:       []byte(`{"vehicle":{"@class":"example.com/land.Automobile"}}`),
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !ids.Valid(saved.ID) {
		t.Errorf("Save assigned %q, want a ULID", saved.ID)
	}

	got, err := s.Get(ctx, "whitelist", saved.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TypeID != saved.TypeID || got.Label != "Automobile" || string(got.Body) != string(saved.Body) {
		t.Errorf("Get = %+v, want %+v", got, saved)
	}
	if !got.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, fixed)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "whitelist", ids.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing id: err = %v, want ErrNotFound", err)
	}

	saved, err := s.Save(ctx, Record{Deployment: "a", TypeID: "t", Label: "l", Body: []byte("{}")})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Get(ctx, "b", saved.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get from other deployment: err = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	var want []string
	for _, dep := range []string{"a", "b", "a", "a"} {
		r, err := s.Save(ctx, Record{Deployment: dep, TypeID: "t", Label: "l", Body: []byte("{}")})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if dep == "a" {
			want = append([]string{r.ID}, want...)
		}
	}

	all, err := s.List(ctx, "a", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != len(want) {
		t.Fatalf("List returned %d records, want %d", len(all), len(want))
	}
	for i, r := range all {
		if r.ID != want[i] {
			t.Errorf("List[%d] = %s, want %s", i, r.ID, want[i])
		}
	}

	limited, err := s.List(ctx, "a", 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != want[0] || limited[1].ID != want[1] {
		t.Errorf("List with limit 2 = %v, want the newest two %v", recordIDs(limited), want[:2])
	}

	none, err := s.List(ctx, "zzz", 0)
	if err != nil || len(none) != 0 {
		t.Errorf("List unknown deployment = %v, %v", none, err)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vehicles.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	saved, err := s.Save(ctx, Record{Deployment: "a", TypeID: "t", Label: "l", Body: []byte("{}")})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	s.Close()

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(ctx, "a", saved.ID); err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
}

func recordIDs(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
