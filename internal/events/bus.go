// Package events distributes transcript and lifecycle events to interested
// consumers: a WebSocket broadcaster for UIs, log followers, tests.
//
// The bus is strictly non-blocking on the publish side — a slow subscriber
// loses events rather than stalling a session goroutine.
package events

import (
	"sync"
	"time"
)

// Type enumerates the event kinds published by the engine.
type Type string

const (
	// TypeUserSaid is published after a participant's utterance was
	// transcribed and accepted as a turn.
	TypeUserSaid Type = "user_said"

	// TypeAgentSaid is published after the agent's reply finished (or was cut
	// off) on the outbound sink.
	TypeAgentSaid Type = "agent_said"

	// TypeBargeIn is published when a participant interrupts agent playback.
	TypeBargeIn Type = "barge_in"

	// TypeSessionStarted and TypeSessionEnded bracket a session's lifetime.
	TypeSessionStarted Type = "session_started"
	TypeSessionEnded   Type = "session_ended"
)

// Event is one engine occurrence worth telling the outside world about.
type Event struct {
	Type        Type      `json:"type"`
	SessionID   string    `json:"session_id"`
	SpeakerName string    `json:"speaker_name,omitempty"`
	Text        string    `json:"text,omitempty"`
	Interrupted bool      `json:"interrupted,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// subscriberBuffer is the per-subscriber channel depth. Beyond this many
// undelivered events the subscriber starts losing the newest ones.
const subscriberBuffer = 64

// Bus fans events out to all current subscribers.
//
// All methods are safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish delivers ev to every subscriber. Delivery is best-effort: a
// subscriber whose buffer is full misses the event. Publish never blocks.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its event channel together
// with a cancel function. The channel is closed when cancel is called or the
// bus shuts down.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close shuts the bus down and closes all subscriber channels. Publishing to
// a closed bus is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
