package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHubOpenIsIdempotent(t *testing.T) {
	h := NewHub()

	first := h.Open("job-1")
	second := h.Open("job-1")

	if first != second {
		t.Error("Open should return the existing stream for a known job")
	}
	if h.Count() != 1 {
		t.Errorf("expected 1 stream, got %d", h.Count())
	}
}

func TestHubStreamsAreIsolated(t *testing.T) {
	h := NewHub()

	a := h.Open("job-a")
	b := h.Open("job-b")

	a.Push(LogEvent("for a"))

	if _, ok := b.Next(10 * time.Millisecond); ok {
		t.Error("job-b stream received job-a's event")
	}
	event, ok := a.Next(10 * time.Millisecond)
	if !ok || event.Log != "for a" {
		t.Errorf("job-a stream lost its event, got %+v ok=%v", event, ok)
	}
}

func TestHubRelease(t *testing.T) {
	h := NewHub()
	h.Open("job-1")

	h.Release("job-1")

	if _, ok := h.Get("job-1"); ok {
		t.Error("released stream still registered")
	}
}

func TestHubReapIdleOnlyFinished(t *testing.T) {
	h := NewHub()

	finished := h.Open("finished")
	finished.Push(DoneEvent())
	h.Open("running")

	time.Sleep(5 * time.Millisecond)

	reaped := h.ReapIdle(time.Millisecond)
	if reaped != 1 {
		t.Errorf("expected 1 reaped stream, got %d", reaped)
	}
	if _, ok := h.Get("finished"); ok {
		t.Error("finished stream should have been reaped")
	}
	if _, ok := h.Get("running"); !ok {
		t.Error("running stream should survive the reap")
	}
}

func TestProgressEventWireShape(t *testing.T) {
	payload, err := json.Marshal(StageEvent("Transcoding", 42.5))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(payload) != `{"stage":"Transcoding","percent":42.5}` {
		t.Errorf("unexpected wire shape %s", payload)
	}

	payload, err = json.Marshal(DoneEvent())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(payload) != `{"log":"DONE"}` {
		t.Errorf("unexpected sentinel shape %s", payload)
	}
}
