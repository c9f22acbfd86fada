package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type recordingSink struct {
	got []Event
	err error
}

func (r *recordingSink) Publish(_ context.Context, e Event) error {
	r.got = append(r.got, e)
	return r.err
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNewSetsOptionalDriver(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.FixedZone("EAT", 3*3600))
	e := New(KindPoolReset, "r1", "", at)
	if e.DriverID != nil {
		t.Fatalf("expected no driver id, got %v", *e.DriverID)
	}
	if e.At.Location() != time.UTC || !e.At.Equal(at) {
		t.Fatalf("expected UTC timestamp equal to input, got %v", e.At)
	}
	e = New(KindAssigned, "r1", "d1", at)
	if e.DriverID == nil || *e.DriverID != "d1" {
		t.Fatal("expected driver id d1")
	}
}

func TestWithDoesNotShareDetail(t *testing.T) {
	base := New(KindOfferDeclined, "r1", "d1", time.Now()).With("reason", "manual")
	other := base.With("reason", "timeout")
	if base.Detail["reason"] != "manual" || other.Detail["reason"] != "timeout" {
		t.Fatalf("detail maps are shared: %v %v", base.Detail, other.Detail)
	}
}

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingSink{}
	b := &recordingSink{err: boom}
	sink := Multi(a, nil, b)

	err := sink.Publish(context.Background(), New(KindAssigned, "r1", "d1", time.Now()))
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to wrap boom, got %v", err)
	}
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("expected both sinks to receive the event, got %d and %d", len(a.got), len(b.got))
	}
	if err := Nop().Publish(context.Background(), Event{}); err != nil {
		t.Fatalf("nop sink returned %v", err)
	}
}

func TestKafkaPublisherKeysByRide(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}
	e := New(KindOfferAccepted, "ride-9", "d2", time.Now())

	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "ride-9" {
		t.Fatalf("key = %q, want ride-9", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != string(KindOfferAccepted) {
		t.Fatalf("unexpected headers: %+v", msg.Headers)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.ID != e.ID || decoded.Kind != e.Kind {
		t.Fatalf("payload mismatch: %+v", decoded)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("close: err=%v closed=%v", err, w.closed)
	}
}
