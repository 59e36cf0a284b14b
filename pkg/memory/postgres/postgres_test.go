package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxloop/voxloop/pkg/memory/postgres"
	embmock "github.com/voxloop/voxloop/pkg/provider/embeddings/mock"
	"github.com/voxloop/voxloop/pkg/types"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXLOOP_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXLOOP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXLOOP_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean turns table and a
// deterministic mock embedder.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS turns"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	embedder := &embmock.Provider{
		Vec:   []float32{0.1, 0.2, 0.3, 0.4},
		Dim:   testEmbeddingDim,
		Model: "test-embed-v1",
	}
	store, err := postgres.NewStore(ctx, dsn, embedder)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestAppendAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, text := range []string{"first turn", "second turn", "third turn"} {
		err := store.Append(ctx, types.TurnEntry{
			SessionID: "room1:alice",
			SpeakerID: "alice",
			Text:      text,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := store.Recent(ctx, "room1:alice", 0, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	// Limit applies to the newest turns; order is still chronological.
	if entries[0].Text != "second turn" || entries[1].Text != "third turn" {
		t.Errorf("unexpected window: %q, %q", entries[0].Text, entries[1].Text)
	}
}

func TestAppendRejectsEmptyText(t *testing.T) {
	store := newTestStore(t)
	err := store.Append(context.Background(), types.TurnEntry{SessionID: "s", Text: "   "})
	if err == nil {
		t.Fatal("expected error for empty turn text")
	}
}

func TestRecentWindowExcludesOldTurns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := types.TurnEntry{SessionID: "s", Text: "ancient", Timestamp: time.Now().Add(-time.Hour)}
	fresh := types.TurnEntry{SessionID: "s", Text: "fresh", Timestamp: time.Now()}
	if err := store.Append(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	entries, err := store.Recent(ctx, "s", 10*time.Minute, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Text != "fresh" {
		t.Errorf("window should exclude the old turn, got %+v", entries)
	}
}

func TestRecallOrdersBySimilarity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, types.TurnEntry{
		SessionID: "s",
		SpeakerID: "alice",
		Text:      "we talked about the harbour",
		Timestamp: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	recs, err := store.Recall(ctx, "s", "harbour", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d recollections, want 1", len(recs))
	}
	// Identical mock embeddings: cosine distance must be ~0.
	if recs[0].Distance > 0.001 {
		t.Errorf("distance = %f, want ~0", recs[0].Distance)
	}
	if recs[0].Entry.Text != "we talked about the harbour" {
		t.Errorf("unexpected recalled text %q", recs[0].Entry.Text)
	}
}

func TestRecallZeroTopK(t *testing.T) {
	store := newTestStore(t)
	recs, err := store.Recall(context.Background(), "s", "anything", 0)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d recollections, want 0", len(recs))
	}
}
