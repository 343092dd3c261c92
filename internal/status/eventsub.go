package status

import (
	"sync"
	"time"

	"github.com/ichi0g0y/tip-roulette/internal/broadcast"
)

// ChangeCallback is called when the EventSub connection state changes.
type ChangeCallback func(connected bool)

// Snapshot is the EventSub connection state reported by /health and the overlay.
type Snapshot struct {
	Connected bool   `json:"connected"`
	LastError string `json:"lastError,omitempty"`
	Since     int64  `json:"since"`
}

// EventSub tracks whether the Twitch EventSub websocket is connected.
type EventSub struct {
	mu        sync.RWMutex
	connected bool
	lastError error
	since     time.Time
	callbacks []ChangeCallback
	emitter   broadcast.Emitter
	now       func() time.Time
}

func NewEventSub(emitter broadcast.Emitter) *EventSub {
	if emitter == nil {
		emitter = broadcast.Nop
	}
	return &EventSub{emitter: emitter, now: time.Now, since: time.Now()}
}

// SetConnected records the connection state. err is kept as the last error when disconnecting.
func (s *EventSub) SetConnected(connected bool, err error) {
	s.mu.Lock()
	previous := s.connected
	s.connected = connected
	if connected {
		s.lastError = nil
	} else if err != nil {
		s.lastError = err
	}
	if previous != connected {
		s.since = s.now()
	}
	callbacks := make([]ChangeCallback, len(s.callbacks))
	copy(callbacks, s.callbacks)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	// 状態が変わったときだけ通知
	if previous == connected {
		return
	}

	eventType := "eventsub_disconnected"
	if connected {
		eventType = "eventsub_connected"
	}
	s.emitter.Emit(eventType, snap)

	for _, cb := range callbacks {
		if cb != nil {
			cb(connected)
		}
	}
}

func (s *EventSub) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *EventSub) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

func (s *EventSub) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *EventSub) snapshotLocked() Snapshot {
	snap := Snapshot{Connected: s.connected, Since: s.since.UnixMilli()}
	if s.lastError != nil {
		snap.LastError = s.lastError.Error()
	}
	return snap
}

// OnChange registers a callback for connection state changes.
func (s *EventSub) OnChange(cb ChangeCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}
