// Package mock provides an in-memory test double for the memory layer
// interfaces.
//
// Store records every appended turn and returns configurable recall results,
// making it suitable both as a stub for the turn engine and as a lightweight
// functional session log in tests. It is safe for concurrent use.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxloop/voxloop/pkg/memory"
	"github.com/voxloop/voxloop/pkg/types"
)

// Store is a configurable in-memory implementation of [memory.Store].
type Store struct {
	mu sync.Mutex

	// AppendErr, if non-nil, is returned by every Append call.
	AppendErr error

	// RecentErr, if non-nil, is returned by every Recent call.
	RecentErr error

	// RecallResult is returned by Recall when RecallErr is nil.
	RecallResult []memory.Recollection

	// RecallErr, if non-nil, is returned by every Recall call.
	RecallErr error

	// Entries holds every successfully appended turn in order. Guarded by the
	// internal mutex; use Appended for a safe copy.
	Entries []types.TurnEntry

	// RecallCalls records the (sessionID, query, topK) of every Recall call.
	RecallCalls []RecallCall
}

// RecallCall records a single invocation of Recall.
type RecallCall struct {
	SessionID string
	Query     string
	TopK      int
}

// Append implements [memory.SessionLog].
func (s *Store) Append(_ context.Context, entry types.TurnEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.Entries = append(s.Entries, entry)
	return nil
}

// Recent implements [memory.SessionLog] over the in-memory entry list.
func (s *Store) Recent(_ context.Context, sessionID string, window time.Duration, limit int) ([]types.TurnEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}

	cutoff := time.Time{}
	if window > 0 {
		cutoff = time.Now().Add(-window)
	}

	var out []types.TurnEntry
	for _, e := range s.Entries {
		if e.SessionID != sessionID {
			continue
		}
		if !cutoff.IsZero() && e.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Recall implements [memory.Recaller] by returning RecallResult.
func (s *Store) Recall(_ context.Context, sessionID, query string, topK int) ([]memory.Recollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecallCalls = append(s.RecallCalls, RecallCall{SessionID: sessionID, Query: query, TopK: topK})
	if s.RecallErr != nil {
		return nil, s.RecallErr
	}
	return s.RecallResult, nil
}

// Appended returns a copy of all appended entries. Thread-safe.
func (s *Store) Appended() []types.TurnEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.TurnEntry, len(s.Entries))
	copy(out, s.Entries)
	return out
}

// Reset clears all recorded entries and calls. Thread-safe.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Entries = nil
	s.RecallCalls = nil
}

// Ensure Store implements memory.Store at compile time.
var _ memory.Store = (*Store)(nil)
