package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestMakeEventEnvelope(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	raw := makeEventAt(at, "req-1", TypeListingsNew, 1, map[string]any{"count": 3})

	var e Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatal(err)
	}
	if e.Type != TypeListingsNew || e.Version != 1 || e.RequestID != "req-1" {
		t.Errorf("envelope = %+v", e)
	}
	if !e.At.Equal(at) || e.At.Location() != time.UTC {
		t.Errorf("at = %v, want %v in UTC", e.At, at)
	}
	if string(e.Data) != `{"count":3}` {
		t.Errorf("data = %s", e.Data)
	}
}

func TestMakeEventWithoutData(t *testing.T) {
	var e Event
	if err := json.Unmarshal([]byte(MakeEvent("", TypePing, 1, nil)), &e); err != nil {
		t.Fatal(err)
	}
	if e.Data != nil {
		t.Errorf("data = %s, want omitted", e.Data)
	}
}

func TestHubFanOut(t *testing.T) {
	h := NewHub()
	a, b := h.Subscribe(), h.Subscribe()
	if h.Subscribers() != 2 {
		t.Fatalf("subscribers = %d", h.Subscribers())
	}
	h.Publish("x")
	if <-a != "x" || <-b != "x" {
		t.Fatal("event not delivered to every subscriber")
	}

	h.Unsubscribe(a)
	h.Unsubscribe(a)
	if _, ok := <-a; ok {
		t.Error("unsubscribed channel still open")
	}
	h.Publish("y")
	if <-b != "y" {
		t.Error("remaining subscriber missed event")
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	for i := 0; i < h.buf+5; i++ {
		h.Publish("e")
	}
	if len(ch) != h.buf {
		t.Errorf("buffered = %d, want %d", len(ch), h.buf)
	}
}

func TestBusPublishesToHub(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	b := NewBus(h, slog.New(slog.NewTextHandler(io.Discard, nil)))

	b.Publish(context.Background(), "r", TypeScrapeFinished, map[string]int{"new": 2})

	var e Event
	if err := json.Unmarshal([]byte(<-ch), &e); err != nil {
		t.Fatal(err)
	}
	if e.Type != TypeScrapeFinished || e.RequestID != "r" {
		t.Errorf("event = %+v", e)
	}
	if err := b.Close(); err != nil {
		t.Error(err)
	}
}
