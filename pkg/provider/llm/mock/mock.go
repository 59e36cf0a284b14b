// Package mock provides test doubles for the llm package interfaces.
//
// Use Replier to return scripted replies and inspect the TurnContext the turn
// engine assembled:
//
//	m := &mock.Replier{Reply: "Certainly."}
//	engine := turn.NewEngine(..., m, ...)
package mock

import (
	"context"
	"sync"

	"github.com/voxloop/voxloop/pkg/provider/llm"
)

// Replier is a mock implementation of llm.Replier.
type Replier struct {
	mu sync.Mutex

	// Reply is the text returned by Generate when Replies is empty.
	Reply string

	// Replies, if non-empty, is consumed one element per Generate call; after
	// the slice is exhausted, Reply is returned.
	Replies []string

	// Err, if non-nil, is returned as the error from every Generate call.
	Err error

	// Delay, if non-nil, is waited on before returning; pass a channel that the
	// test closes to release a blocked Generate call. Generate also returns
	// early with ctx.Err() if the context is cancelled while waiting.
	Delay chan struct{}

	// GenerateCalls records the TurnContext of every Generate call.
	GenerateCalls []llm.TurnContext
}

// Generate records the call and returns the scripted reply.
func (m *Replier) Generate(ctx context.Context, tc llm.TurnContext) (string, error) {
	m.mu.Lock()
	m.GenerateCalls = append(m.GenerateCalls, tc)
	reply := m.Reply
	if len(m.Replies) > 0 {
		reply = m.Replies[0]
		m.Replies = m.Replies[1:]
	}
	err := m.Err
	delay := m.Delay
	m.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

// CallCount returns the number of Generate calls. Thread-safe.
func (m *Replier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.GenerateCalls)
}

// LastCall returns the most recent TurnContext, or a zero value if Generate
// was never called. Thread-safe.
func (m *Replier) LastCall() llm.TurnContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.GenerateCalls) == 0 {
		return llm.TurnContext{}
	}
	return m.GenerateCalls[len(m.GenerateCalls)-1]
}

// Reset clears all recorded calls. Thread-safe.
func (m *Replier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateCalls = nil
}

// Ensure Replier implements llm.Replier at compile time.
var _ llm.Replier = (*Replier)(nil)
