// Package postgres provides a PostgreSQL-backed implementation of the
// conversation memory layers (session log + semantic recall).
//
// Both layers share a single [pgxpool.Pool]. Turn embeddings are computed at
// append time via an injected [embeddings.Provider] and stored in a pgvector
// column, so recall is a single cosine-distance query. The pgvector extension
// must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, embedder)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Append(ctx, entry)
//	recs, _ := store.Recall(ctx, sessionID, "the restaurant we discussed", 5)
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/voxloop/voxloop/pkg/memory"
	"github.com/voxloop/voxloop/pkg/provider/embeddings"
	"github.com/voxloop/voxloop/pkg/types"
)

// Compile-time interface checks.
var (
	_ memory.SessionLog = (*Store)(nil)
	_ memory.Recaller   = (*Store)(nil)
	_ memory.Store      = (*Store)(nil)
)

// ddlTurns returns the schema DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time;
// changing the embedding model later requires a manual schema change.
func ddlTurns(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS turns (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    speaker_id  TEXT         NOT NULL DEFAULT '',
    text        TEXT         NOT NULL,
    is_agent    BOOLEAN      NOT NULL DEFAULT false,
    interrupted BOOLEAN      NOT NULL DEFAULT false,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_ns BIGINT       NOT NULL DEFAULT 0,
    embedding   vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_turns_session_timestamp
    ON turns (session_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_turns_embedding
    ON turns USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate ensures the turns table, its indexes, and the pgvector extension
// exist. It is idempotent and safe to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres memory: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	if _, err := pool.Exec(ctx, ddlTurns(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres memory: migrate: %w", err)
	}
	return nil
}

// Store implements [memory.Store] on top of PostgreSQL with pgvector.
// All operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn,
// registers pgvector types on every connection, and runs [Migrate] with the
// embedder's dimension count.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("postgres memory: embedder must not be nil")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres memory: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embedder.Dimensions()); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool, embedder: embedder}, nil
}

// Close releases all connections held by the underlying pool. It should be
// called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Append implements [memory.SessionLog]. The turn text is embedded before
// insertion; an embedding failure fails the append so the log and the vector
// index never diverge.
func (s *Store) Append(ctx context.Context, entry types.TurnEntry) error {
	if strings.TrimSpace(entry.Text) == "" {
		return fmt.Errorf("postgres memory: refusing to append empty turn text")
	}

	vec, err := s.embedder.Embed(ctx, entry.Text)
	if err != nil {
		return fmt.Errorf("postgres memory: embed turn: %w", err)
	}

	const q = `
		INSERT INTO turns
		    (session_id, speaker_id, text, is_agent, interrupted, timestamp, duration_ns, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = s.pool.Exec(ctx, q,
		entry.SessionID,
		entry.SpeakerID,
		entry.Text,
		entry.IsAgent,
		entry.Interrupted,
		entry.Timestamp,
		entry.Duration.Nanoseconds(),
		pgvector.NewVector(vec),
	)
	if err != nil {
		return fmt.Errorf("postgres memory: append turn: %w", err)
	}
	return nil
}

// Recent implements [memory.SessionLog]. It returns up to limit turns for
// sessionID within the last window, ordered chronologically (oldest first).
func (s *Store) Recent(ctx context.Context, sessionID string, window time.Duration, limit int) ([]types.TurnEntry, error) {
	args := []any{sessionID}
	conditions := []string{"session_id = $1"}
	if window > 0 {
		args = append(args, window.Microseconds())
		conditions = append(conditions,
			fmt.Sprintf("timestamp >= now() - ($%d::bigint * interval '1 microsecond')", len(args)))
	}

	q := "SELECT session_id, speaker_id, text, is_agent, interrupted, timestamp, duration_ns\n" +
		"FROM   turns\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY timestamp DESC"
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: recent turns: %w", err)
	}
	entries, err := collectTurns(rows)
	if err != nil {
		return nil, err
	}

	// The query reads newest-first to apply the limit; flip to chronological.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Recall implements [memory.Recaller]. The query text is embedded and the
// topK nearest turns by cosine distance are returned, most similar first.
func (s *Store) Recall(ctx context.Context, sessionID, query string, topK int) ([]memory.Recollection, error) {
	if topK <= 0 {
		return []memory.Recollection{}, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: embed query: %w", err)
	}

	args := []any{pgvector.NewVector(vec)}
	whereClause := ""
	if sessionID != "" {
		args = append(args, sessionID)
		whereClause = fmt.Sprintf("WHERE session_id = $%d", len(args))
	}
	args = append(args, topK)

	q := fmt.Sprintf(`
		SELECT session_id, speaker_id, text, is_agent, interrupted, timestamp, duration_ns,
		       embedding <=> $1 AS distance
		FROM   turns
		%s
		ORDER  BY distance
		LIMIT  $%d`, whereClause, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: recall: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Recollection, error) {
		var (
			rec        memory.Recollection
			durationNS int64
		)
		if err := row.Scan(
			&rec.Entry.SessionID,
			&rec.Entry.SpeakerID,
			&rec.Entry.Text,
			&rec.Entry.IsAgent,
			&rec.Entry.Interrupted,
			&rec.Entry.Timestamp,
			&durationNS,
			&rec.Distance,
		); err != nil {
			return memory.Recollection{}, err
		}
		rec.Entry.Duration = time.Duration(durationNS)
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres memory: scan recollections: %w", err)
	}
	if results == nil {
		results = []memory.Recollection{}
	}
	return results, nil
}

// collectTurns scans pgx rows into a slice of TurnEntry values.
func collectTurns(rows pgx.Rows) ([]types.TurnEntry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.TurnEntry, error) {
		var (
			e          types.TurnEntry
			durationNS int64
		)
		if err := row.Scan(
			&e.SessionID,
			&e.SpeakerID,
			&e.Text,
			&e.IsAgent,
			&e.Interrupted,
			&e.Timestamp,
			&durationNS,
		); err != nil {
			return types.TurnEntry{}, err
		}
		e.Duration = time.Duration(durationNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres memory: scan turns: %w", err)
	}
	if entries == nil {
		entries = []types.TurnEntry{}
	}
	return entries, nil
}
