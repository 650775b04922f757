package metrics

import (
	"errors"
	"testing"

	"github.com/kilianp07/movedispatch/core/model"
)

type recordSink struct {
	count int
	err   error
}

func (r *recordSink) RecordEvent(EventRecord) error {
	r.count++
	return r.err
}

func (r *recordSink) RecordLocation(model.LocationSample) error {
	r.count++
	return nil
}

type eventOnly struct{ count int }

func (e *eventOnly) RecordEvent(EventRecord) error {
	e.count++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	e := &eventOnly{}
	m := NewMultiSink(s1, s2, e)
	if err := m.RecordEvent(EventRecord{Kind: "offer.created"}); err != nil {
		t.Fatalf("record event: %v", err)
	}
	if err := m.RecordLocation(model.LocationSample{MoverID: "a"}); err != nil {
		t.Fatalf("record location: %v", err)
	}
	if s1.count != 2 || s2.count != 2 {
		t.Fatalf("records not forwarded: %d %d", s1.count, s2.count)
	}
	if e.count != 1 {
		t.Fatalf("event-only sink got %d records", e.count)
	}
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &recordSink{}
	m := NewMultiSink(&recordSink{err: boom}, ok)
	err := m.RecordEvent(EventRecord{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if ok.count != 1 {
		t.Fatalf("later sinks must still be called")
	}
}
