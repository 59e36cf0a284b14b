// Package memory defines the two-layer conversation memory used by voice
// sessions.
//
//   - [SessionLog]: hot, time-ordered turn log. Allows fast appends while a
//     session is live and recency-window retrieval when assembling the next
//     prompt.
//   - [Recaller]: embedding-based similarity search over past turns, used to
//     surface older context that fell out of the recency window.
//
// Both interfaces are public so that external packages can supply alternative
// storage backends (Postgres/pgvector, in-memory, …).
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"

	"github.com/voxloop/voxloop/pkg/types"
)

// Recollection pairs a recalled turn with its vector-space distance from the
// query. Lower Distance values indicate higher semantic similarity.
type Recollection struct {
	// Entry is the recalled turn.
	Entry types.TurnEntry

	// Distance is the cosine distance to the query embedding.
	Distance float64
}

// SessionLog is the authoritative record of completed turns.
type SessionLog interface {
	// Append writes one finished turn to the log. Agent turns that were cut
	// off by a barge-in are stored with entry.Interrupted set and entry.Text
	// holding only what was actually spoken aloud.
	Append(ctx context.Context, entry types.TurnEntry) error

	// Recent returns up to limit turns for sessionID recorded within the last
	// window, ordered chronologically (oldest first). A zero window means no
	// time bound.
	Recent(ctx context.Context, sessionID string, window time.Duration, limit int) ([]types.TurnEntry, error)
}

// Recaller retrieves semantically similar past turns for prompt assembly.
type Recaller interface {
	// Recall returns the topK turns in sessionID most similar to query,
	// ordered by ascending distance (most similar first). An empty sessionID
	// searches across all sessions.
	Recall(ctx context.Context, sessionID, query string, topK int) ([]Recollection, error)
}

// Store combines both memory layers behind one value, the shape most callers
// want to inject.
type Store interface {
	SessionLog
	Recaller
}
