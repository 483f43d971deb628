//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/jarvisbrain/brain-go-sdk/memory"
	"github.com/jarvisbrain/brain-go-sdk/memory/store/postgres"
)

// Requires a reachable database:
//
//	DATABASE_URL=postgres://... go test -tags integration ./memory/store/postgres
func setup(t *testing.T) *postgres.Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := postgres.New(ctx, url)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return store
}

// uniqueOwner isolates each test run from leftover rows.
func uniqueOwner() string {
	return "test-" + uuid.New().String()[:8]
}

func record(owner, key, content string, importance float64, embedding []float32) *memory.Record {
	return &memory.Record{
		ID:         uuid.New().String(),
		Owner:      owner,
		Key:        key,
		Content:    json.RawMessage(content),
		Embedding:  embedding,
		Importance: importance,
	}
}

func TestUpsertKeepsRowIdentity(t *testing.T) {
	store := setup(t)
	ctx := context.Background()
	owner := uniqueOwner()

	first, err := store.Upsert(ctx, record(owner, "k", `{"v":1}`, 0.4, nil))
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := store.Upsert(ctx, record(owner, "k", `{"v":2}`, 0.9, nil))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first != second {
		t.Errorf("row id changed across upserts: %s vs %s", first, second)
	}

	stats, err := store.Stats(ctx, owner)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalMemories != 1 {
		t.Errorf("expected one row, got %d", stats.TotalMemories)
	}
}

func TestUpsertPreservesEmbedding(t *testing.T) {
	store := setup(t)
	ctx := context.Background()
	owner := uniqueOwner()

	if _, err := store.Upsert(ctx, record(owner, "k", `{}`, 0.5, []float32{1, 2, 3})); err != nil {
		t.Fatalf("indexed upsert: %v", err)
	}
	// Re-store without an embedding; the stored vector must survive.
	if _, err := store.Upsert(ctx, record(owner, "k", `{}`, 0.5, nil)); err != nil {
		t.Fatalf("unindexed upsert: %v", err)
	}

	stats, err := store.Stats(ctx, owner)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.WithEmbedding != 1 {
		t.Errorf("embedding was nulled out by embedding-less upsert")
	}
}

func TestSearchTextLiteralWildcards(t *testing.T) {
	store := setup(t)
	ctx := context.Background()
	owner := uniqueOwner()

	if _, err := store.Upsert(ctx, record(owner, "progress", `{"note":"task 100% complete"}`, 0.5, nil)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.Upsert(ctx, record(owner, "other", `{"note":"task 100 units complete"}`, 0.5, nil)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// "100%" must match only the literal percent sign, not act as a
	// wildcard that also matches "100 units".
	recs, err := store.SearchText(ctx, owner, "100%", 0, 10)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(recs) != 1 || recs[0].Key != "progress" {
		t.Fatalf("wildcard leaked into pattern: got %d results", len(recs))
	}

	// Case-insensitive substring on the key.
	recs, err = store.SearchText(ctx, owner, "PROGR", 0, 10)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("case-insensitive key match failed: %d results", len(recs))
	}
}

func TestSearchTextRanking(t *testing.T) {
	store := setup(t)
	ctx := context.Background()
	owner := uniqueOwner()

	store.Upsert(ctx, record(owner, "low", `{"tag":"shared"}`, 0.2, nil))
	store.Upsert(ctx, record(owner, "high", `{"tag":"shared"}`, 0.9, nil))
	store.Upsert(ctx, record(owner, "mid", `{"tag":"shared"}`, 0.5, nil))

	recs, err := store.SearchText(ctx, owner, "shared", 0, 10)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(recs) != 3 || recs[0].Key != "high" || recs[2].Key != "low" {
		t.Fatalf("importance ordering wrong: %+v", recs)
	}

	recs, err = store.SearchText(ctx, owner, "shared", 0.4, 10)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("min importance filter: got %d, want 2", len(recs))
	}
}

func TestCandidatesRequireEmbedding(t *testing.T) {
	store := setup(t)
	ctx := context.Background()
	owner := uniqueOwner()

	store.Upsert(ctx, record(owner, "indexed", `{}`, 0.5, []float32{1, 0}))
	store.Upsert(ctx, record(owner, "unindexed", `{}`, 0.9, nil))

	recs, err := store.Candidates(ctx, owner, 0, 10)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(recs) != 1 || recs[0].Key != "indexed" {
		t.Fatalf("expected only embedded records, got %+v", recs)
	}
	if len(recs[0].Embedding) != 2 {
		t.Errorf("embedding did not round-trip: %v", recs[0].Embedding)
	}
}

func TestDeleteAndTouch(t *testing.T) {
	store := setup(t)
	ctx := context.Background()
	owner := uniqueOwner()

	id, err := store.Upsert(ctx, record(owner, "k", `{}`, 0.5, nil))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := store.Touch(ctx, []string{id}); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	stats, _ := store.Stats(ctx, owner)
	if stats.TotalAccesses != 1 {
		t.Errorf("touch not reflected in stats: %d", stats.TotalAccesses)
	}

	if err := store.Delete(ctx, owner, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, owner, "k"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestContentRoundTrip(t *testing.T) {
	store := setup(t)
	ctx := context.Background()
	owner := uniqueOwner()

	content := `{"nested":{"list":[1,2,3]},"text":"uni ✓"}`
	if _, err := store.Upsert(ctx, record(owner, "k", content, 0.5, nil)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	recs, err := store.SearchText(ctx, owner, "uni", 0, 1)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(recs) != 1 {
		t.Fatal("stored record not found")
	}
	var got, want map[string]interface{}
	json.Unmarshal(recs[0].Content, &got)
	json.Unmarshal([]byte(content), &want)
	if got["text"] != want["text"] {
		t.Errorf("content changed across storage: %s", recs[0].Content)
	}
}
