// Package events carries the oracle broadcast channel. A status request is
// published once per round and consumed by any number of independent oracle
// agents; subscribers see the full history first (replay-from-start) and must
// deduplicate by flight key.
package events

import (
	"sync"
	"time"
)

// OracleRequest is the broadcast emitted when a flight status is requested.
type OracleRequest struct {
	FlightKey string    `json:"flight_key"`
	Airline   string    `json:"airline"`
	Flight    string    `json:"flight"`
	Timestamp int64     `json:"timestamp"`
	Index     uint8     `json:"index"`
	EmittedAt time.Time `json:"emitted_at"`
}

const defaultBuffer = 64

// Bus is an in-process broadcast channel for oracle requests.
type Bus struct {
	mu      sync.Mutex
	history []OracleRequest
	subs    map[int64]chan OracleRequest
	nextID  int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int64]chan OracleRequest)}
}

// Publish records the event and fans it out to all subscribers. Slow
// subscribers drop events; they recover from history on resubscribe.
func (b *Bus) Publish(ev OracleRequest) {
	if ev.EmittedAt.IsZero() {
		ev.EmittedAt = time.Now().UTC()
	}

	// Fan-out happens under the lock: sends are non-blocking and cancel
	// closes subscriber channels under the same lock, so a send can never
	// race a close.
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, ev)
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel that replays all past events before delivering
// live ones, plus a cancel function. The channel is closed on cancel.
func (b *Bus) Subscribe() (<-chan OracleRequest, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	size := defaultBuffer
	if n := len(b.history); n > size {
		size = n + defaultBuffer
	}
	ch := make(chan OracleRequest, size)
	for _, ev := range b.history {
		ch <- ev
	}
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// History returns a copy of all events published so far.
func (b *Bus) History() []OracleRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]OracleRequest(nil), b.history...)
}
