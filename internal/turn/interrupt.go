package turn

import "sync"

// InterruptTracker remembers the full text of the last agent reply that was
// cut off by a barge-in. The next generation call consumes it so the model
// knows what it was saying when it got interrupted.
//
// The tracker holds at most one entry; a second barge-in before the first
// interrupted reply was consumed simply overwrites it.
//
// Safe for concurrent use: Set runs on the session goroutine while
// TakeAndClear runs on a stage goroutine.
type InterruptTracker struct {
	mu   sync.Mutex
	text string
}

// Set stores the full intended reply text, replacing any previous entry.
func (t *InterruptTracker) Set(reply string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.text = reply
}

// TakeAndClear returns the stored reply text and empties the tracker in one
// step, so the interrupted context is injected into exactly one generation.
func (t *InterruptTracker) TakeAndClear() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	text := t.text
	t.text = ""
	return text
}
