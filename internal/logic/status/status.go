// Package status fans controller state changes out to subscribers.
package status

import (
	"encoding/json"
	"sync"
	"time"
)

// Kind classifies an Event.
type Kind string

const (
	KindMoved      Kind = "moved"
	KindJogged     Kind = "jogged"
	KindAtLimit    Kind = "at_limit"
	KindHomed      Kind = "homed"
	KindStopped    Kind = "stopped"
	KindMode       Kind = "mode"
	KindCalibrated Kind = "calibrated"
	KindScheduled  Kind = "scheduled"
	KindError      Kind = "error"
)

// SubscriberBuffer is the per-subscriber channel capacity.
const SubscriberBuffer = 64

// Event is one state change.
type Event struct {
	Time  time.Time `json:"t"`
	Kind  Kind      `json:"k"`
	Axis  string    `json:"axis,omitempty"`
	Angle float64   `json:"angle,omitempty"`
	Mode  string    `json:"mode,omitempty"`
	Msg   string    `json:"msg,omitempty"`
}

// String renders the event as a JSON line.
func (e Event) String() string {
	data, err := json.Marshal(e)
	if err != nil {
		return string(e.Kind)
	}
	return string(data)
}

// Broadcaster distributes events to every subscriber.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[chan Event]struct{}
	now     func() time.Time
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[chan Event]struct{}),
		now:     time.Now,
	}
}

// Subscribe returns a channel of events and a cleanup function that must be
// called when the subscriber is done.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, SubscriberBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Publish stamps evt and sends it to every subscriber. A subscriber whose
// buffer is full misses the event; Publish never blocks.
func (b *Broadcaster) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- evt:
		default:
			// full, skip
		}
	}
}
