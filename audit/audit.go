// Package audit records polymorphic resolutions: every rejection, plus the
// accepted posts selected by the audit-accepted rollout flag. Events are
// Avro encoded and published to Kafka, or logged when no broker is
// configured.
package audit

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hamba/avro/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/ai8future/polyguard/internal/ids"
)

// Outcomes carried by Event.Outcome.
const (
	OutcomeDenied   = "denied"
	OutcomeRejected = "rejected"
	OutcomeAccepted = "accepted"
)

// Event describes one audited resolution.
type Event struct {
	ID         string    `avro:"id"`
	Time       time.Time `avro:"time"`
	Deployment string    `avro:"deployment"`
	RequestID  string    `avro:"request_id"`
	Outcome    string    `avro:"outcome"`
	BaseType   string    `avro:"base_type"`
	TypeID     string    `avro:"type_id"`
	Validator  string    `avro:"validator"`
	Reason     string    `avro:"reason"`
	Digest     string    `avro:"digest"`
}

// NewEvent stamps an event with a fresh id, the current time and the digest
// of body. The outcome defaults to denied.
func NewEvent(body []byte) Event {
	return Event{
		ID:      ids.New(),
		Outcome: OutcomeDenied,
		Time:    time.Now().UTC().Truncate(time.Millisecond),
		Digest:  Digest(body),
	}
}

// Digest returns the hex BLAKE2b-256 of body.
func Digest(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// SchemaJSON is the Avro schema of Event.
const SchemaJSON = `{
  "type": "record",
  "name": "Resolution",
  "namespace": "polyguard.audit",
  "fields": [
    {"name": "id", "type": "string"},
    {"name": "time", "type": {"type": "long", "logicalType": "timestamp-millis"}},
    {"name": "deployment", "type": "string"},
    {"name": "request_id", "type": "string", "default": ""},
    {"name": "outcome", "type": "string", "default": "denied"},
    {"name": "base_type", "type": "string"},
    {"name": "type_id", "type": "string"},
    {"name": "validator", "type": "string"},
    {"name": "reason", "type": "string"},
    {"name": "digest", "type": "string"}
  ]
}`

// Schema is the parsed SchemaJSON.
var Schema = avro.MustParse(SchemaJSON)

// Encode returns the Avro binary form of ev.
func Encode(ev Event) ([]byte, error) {
	b, err := avro.Marshal(Schema, ev)
	if err != nil {
		return nil, fmt.Errorf("audit: encode event: %w", err)
	}
	return b, nil
}

// Decode parses the Avro binary form of an Event. The input must hold
// exactly one record.
func Decode(data []byte) (Event, error) {
	if len(data) == 0 {
		return Event{}, errors.New("audit: decode event: empty input")
	}
	var ev Event
	r := avro.NewReader(nil, 0).Reset(data)
	r.ReadVal(Schema, &ev)
	if r.Error != nil {
		return Event{}, fmt.Errorf("audit: decode event: %w", r.Error)
	}
	if r.Peek(); r.Error == nil {
		return Event{}, errors.New("audit: decode event: trailing bytes after record")
	}
	return ev, nil
}

// Sink receives audit events. Publish must be safe for concurrent use.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// LogSink writes events to a logger: accepted resolutions at info level,
// everything else at warn.
type LogSink struct {
	Logger *slog.Logger
}

// Publish implements Sink.
func (s LogSink) Publish(ctx context.Context, ev Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level, msg := slog.LevelWarn, ev.Outcome+" resolution"
	if ev.Outcome == OutcomeAccepted {
		level = slog.LevelInfo
	}
	logger.Log(ctx, level, msg,
		"audit_id", ev.ID,
		"deployment", ev.Deployment,
		"request_id", ev.RequestID,
		"base_type", ev.BaseType,
		"type_id", ev.TypeID,
		"validator", ev.Validator,
		"reason", ev.Reason,
		"digest", ev.Digest,
	)
	return nil
}

// Multi fans an event out to every sink and returns the first error.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
