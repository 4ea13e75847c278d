// Package store persists accepted vehicles in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/ai8future/polyguard/internal/ids"
)

// ErrNotFound is returned by Get when no record has the requested id.
var ErrNotFound = errors.New("store: record not found")

// Record is one accepted vehicle. Body is the polymorphic JSON encoding,
// type property included.
type Record struct {
	ID         string
	Deployment string
	TypeID     string
	Label      string
	Body       []byte
	CreatedAt  time.Time
}

// SQLite stores records in a single table.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `CREATE TABLE IF NOT EXISTS vehicles (
	id         TEXT PRIMARY KEY,
	deployment TEXT NOT NULL,
	type_id    TEXT NOT NULL,
	label      TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at TEXT NOT NULL
)`

// Open opens (or creates) the database at dsn. ":memory:" gives a private
// in-memory database.
func Open(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// Each connection to :memory: is a separate database, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// Save assigns r an id and creation time and inserts it.
func (s *SQLite) Save(ctx context.Context, r Record) (Record, error) {
	r.ID = ids.New()
	r.CreatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vehicles (id, deployment, type_id, label, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Deployment, r.TypeID, r.Label, string(r.Body), r.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Record{}, fmt.Errorf("store: insert vehicle: %w", err)
	}
	return r, nil
}

// Get returns the record with id in deployment.
func (s *SQLite) Get(ctx context.Context, deployment, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, deployment, type_id, label, body, created_at FROM vehicles WHERE deployment = ? AND id = ?`,
		deployment, id)
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: get vehicle: %w", err)
	}
	return r, nil
}

// List returns up to limit records of deployment, newest first. A limit of
// zero or less returns every record.
func (s *SQLite) List(ctx context.Context, deployment string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deployment, type_id, label, body, created_at FROM vehicles WHERE deployment = ? ORDER BY id DESC LIMIT ?`,
		deployment, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list vehicles: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan vehicle: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: row iteration: %w", err)
	}
	return out, nil
}

// Ping checks the database connection. It matches health.Check.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(sc scanner) (Record, error) {
	var (
		r       Record
		body    string
		created string
	)
	if err := sc.Scan(&r.ID, &r.Deployment, &r.TypeID, &r.Label, &body, &created); err != nil {
		return Record{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	r.Body = []byte(body)
	r.CreatedAt = t
	return r, nil
}
