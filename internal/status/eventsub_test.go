package status

import (
	"errors"
	"testing"

	"github.com/ichi0g0y/tip-roulette/internal/broadcast"
)

func TestEventSubStatusTransitions(t *testing.T) {
	var events []string
	emitter := broadcast.EmitterFunc(func(event string, payload interface{}) {
		events = append(events, event)
	})
	s := NewEventSub(emitter)

	var changes []bool
	s.OnChange(func(connected bool) { changes = append(changes, connected) })

	s.SetConnected(true, nil)
	s.SetConnected(true, nil) // 変化なし
	s.SetConnected(false, errors.New("read: connection reset"))
	s.SetConnected(false, nil)

	if len(events) != 2 || events[0] != "eventsub_connected" || events[1] != "eventsub_disconnected" {
		t.Fatalf("unexpected events: %#v", events)
	}
	if len(changes) != 2 || !changes[0] || changes[1] {
		t.Fatalf("unexpected callbacks: %#v", changes)
	}

	if s.IsConnected() {
		t.Fatalf("should be disconnected")
	}
	snap := s.Snapshot()
	if snap.LastError != "read: connection reset" {
		t.Fatalf("last error should be kept: got=%q", snap.LastError)
	}

	s.SetConnected(true, nil)
	if s.LastError() != nil {
		t.Fatalf("last error should clear on reconnect: %v", s.LastError())
	}
}
