package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	polyguard "github.com/ai8future/polyguard"
)

func TestMain(m *testing.M) {
	polyguard.RequireMajor(1)
	os.Exit(m.Run())
}

func sampleEvent() Event {
	ev := NewEvent([]byte(`{"vehicle":{"@class":"example.com/air.Aircraft"}}`))
	ev.Deployment = "whitelist"
	ev.RequestID = "req-1"
	ev.BaseType = "example.com/vehicles.Vehicle"
	ev.TypeID = "example.com/air.Aircraft"
	ev.Validator = "polytype.WhiteList"
	ev.Reason = "denied resolution"
	return ev
}

func TestDigest(t *testing.T) {
	const emptyBlake2b256 = "0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8"
	if got := Digest(nil); got != emptyBlake2b256 {
		t.Errorf("Digest(nil) = %s", got)
	}
	if Digest([]byte("a")) == Digest([]byte("b")) {
		t.Error("distinct inputs share a digest")
	}
}

func TestEncodeDecode(t *testing.T) {
	ev := sampleEvent()
	data, err := Encode(ev)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Time.Equal(ev.Time) {
		t.Errorf("Time = %v, want %v", got.Time, ev.Time)
	}
	got.Time = ev.Time
	if got != ev {
		t.Errorf("Decode = %+v, want %+v", got, ev)
	}
}

func TestDecode_RejectsIncompleteInput(t *testing.T) {
	valid, err := Encode(sampleEvent())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	cases := map[string][]byte{
		"nil":       nil,
		"empty":     {},
		"one byte":  {0xff},
		"truncated": valid[:len(valid)-1],
		"trailing":  append(append([]byte(nil), valid...), 0x00),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			ev, err := Decode(data)
			if err == nil {
				t.Fatalf("Decode accepted %x as %+v", data, ev)
			}
			if ev != (Event{}) {
				t.Errorf("Decode returned a partial event %+v", ev)
			}
		})
	}
}

func TestNewEvent_TruncatesToMillis(t *testing.T) {
	ev := NewEvent(nil)
	if ev.Time.Nanosecond()%int(time.Millisecond) != 0 {
		t.Errorf("Time %v carries sub-millisecond precision", ev.Time)
	}
	if ev.ID == "" || ev.Digest == "" {
		t.Errorf("NewEvent = %+v", ev)
	}
}

func TestRecord(t *testing.T) {
	ev := sampleEvent()
	rec, err := Record("polyguard.audit", ev)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.Topic != "polyguard.audit" || string(rec.Key) != "whitelist" {
		t.Errorf("Record topic/key = %s/%s", rec.Topic, rec.Key)
	}
	headers := map[string]string{}
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event-id"] != ev.ID || headers["content-type"] != "avro/binary" {
		t.Errorf("headers = %v", headers)
	}
	if back, err := Decode(rec.Value); err != nil || back.TypeID != ev.TypeID {
		t.Errorf("value does not decode: %+v, %v", back, err)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	if err := sink.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"msg":"denied resolution"`, `"type_id":"example.com/air.Aircraft"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log %s missing %s", out, want)
		}
	}
}

func TestLogSink_AcceptedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	ev := sampleEvent()
	ev.Outcome = OutcomeAccepted
	ev.Reason = ""
	if err := sink.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"level":"INFO"`, `"msg":"accepted resolution"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log %s missing %s", out, want)
		}
	}
}

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, Event) error { return f.err }

type countingSink struct{ n *int }

func (c countingSink) Publish(context.Context, Event) error {
	*c.n++
	return nil
}

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	var n int
	m := Multi{failingSink{boom}, countingSink{&n}, failingSink{errors.New("second")}}
	if err := m.Publish(context.Background(), sampleEvent()); !errors.Is(err, boom) {
		t.Errorf("Publish err = %v, want first error", err)
	}
	if n != 1 {
		t.Errorf("later sinks not reached: n = %d", n)
	}
}

func TestNewKafkaSink_Validation(t *testing.T) {
	if _, err := NewKafkaSink(nil, "t"); err == nil {
		t.Error("expected error with no brokers")
	}
	if _, err := NewKafkaSink([]string{"localhost:9092"}, ""); err == nil {
		t.Error("expected error with no topic")
	}
}
