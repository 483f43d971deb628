package memory

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Record is the durable unit of agent memory.
// A record is uniquely identified by its (Owner, Key) pair; the ID is
// assigned on first insert and stays stable across re-stores.
type Record struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
	Key   string `json:"key"`

	// Content is an opaque JSON payload. The engine never inspects it;
	// it must round-trip through storage unchanged.
	Content json.RawMessage `json:"content"`

	// Embedding is the semantic index vector. Nil means the record was
	// never indexed (embedding service down at write time).
	Embedding []float32 `json:"embedding,omitempty"`

	// Importance is a caller-supplied ranking weight in [0,1].
	Importance float64 `json:"importance"`

	// Metadata is an opaque side channel, not interpreted by the engine.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	AccessCount    int       `json:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Layer identifies which storage tier satisfied a request.
type Layer string

const (
	LayerNone       Layer = "none"
	LayerCache      Layer = "cache"      // L1: ephemeral exact-key cache
	LayerPersistent Layer = "persistent" // L2: durable ranked store
	LayerEmbedding  Layer = "embedding"  // L3: semantic similarity over vectors
)

// TierStatus reports the outcome of one tier during a Store.
type TierStatus string

const (
	TierOK      TierStatus = "ok"
	TierFailed  TierStatus = "failed"
	TierIndexed TierStatus = "indexed" // embedding computed and written
	TierSkipped TierStatus = "skipped" // embedding unavailable, write proceeded without it
)

// Layers is the per-tier status map of a Store.
type Layers struct {
	Cache      TierStatus `json:"cache"`
	Persistent TierStatus `json:"persistent"`
	Embedding  TierStatus `json:"embedding"`
}

// StoreResult reports the per-tier outcome of a Store. Tiers are
// independent; a failed tier shows up here instead of failing the call.
type StoreResult struct {
	ID      string        `json:"id"`
	Layers  Layers        `json:"layers"`
	Latency time.Duration `json:"latency"`
}

// ScoredRecord is a Record annotated with where it came from and, when a
// vector comparison happened, how similar it is to the query.
type ScoredRecord struct {
	Record

	SourceLayer Layer `json:"source_layer"`

	// Similarity is set for cache hits (1.0, exact) and embedding-tier
	// results; nil for persistent-tier substring matches where no vector
	// comparison was performed.
	Similarity *float64 `json:"similarity,omitempty"`
}

// RecallResult is the outcome of a cascading Recall.
type RecallResult struct {
	Results     []ScoredRecord `json:"results"`
	SourceLayer Layer          `json:"source_layer"`
	Latency     time.Duration  `json:"latency"`
}

// Stats is a per-owner aggregate over the persistent store.
type Stats struct {
	TotalMemories int     `json:"total_memories"`
	WithEmbedding int     `json:"with_embedding"`
	AvgImportance float64 `json:"avg_importance"`
	TotalAccesses int     `json:"total_accesses"`
}

// Sentinel errors. Tier outages are absorbed by the engine and surfaced as
// data; these are the conditions that do propagate to callers.
var (
	// ErrNotFound indicates a delete targeted a (owner, key) with no row.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidInput indicates a request was rejected before any tier
	// was touched (importance out of range, oversized query, ...).
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbedderUnavailable indicates the embedding service could not
	// produce a vector for an operation that requires one (Search).
	ErrEmbedderUnavailable = errors.New("embedding service unavailable")

	// ErrAllTiersFailed indicates a Store where both the cache write and
	// the persistent upsert failed, so no trace of the write survives.
	ErrAllTiersFailed = errors.New("all storage tiers failed")
)

// CacheStore is the L1 backend: a volatile key→value store with per-entry
// TTL. It is never authoritative; losing an entry loses speed, not data.
//
// Failures never cross this boundary as errors; operations report a plain
// ok/miss so the engine can degrade without unwrapping anything.
//
// Implementations: cache/redis (production), cache/ristretto (in-process).
type CacheStore interface {
	// Get returns the cached value for key, or ok=false on miss or
	// backend failure.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set writes value under key with the given TTL. Returns false on
	// backend failure.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool

	// Delete removes key. Returns false on backend failure.
	Delete(ctx context.Context, key string) bool

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) bool

	// Close releases the underlying connection.
	Close() error
}

// RecordStore is the L2 backend: the authoritative, durable store of
// Records, keyed by the natural key (owner, key).
//
// Implementations: store/postgres (production).
type RecordStore interface {
	// Upsert inserts rec or, when (owner, key) already exists, replaces
	// content, importance and metadata wholesale, bumps access_count and
	// updated_at, and keeps the existing row ID. A nil rec.Embedding must
	// preserve any previously stored embedding rather than null it out.
	// Returns the row ID (new or reused).
	Upsert(ctx context.Context, rec *Record) (string, error)

	// SearchText returns records for owner with importance >= minImportance
	// whose key or serialized content contains query as a case-insensitive
	// literal substring (wildcard characters in query are not interpreted).
	// Ordered by importance desc, then last_accessed_at desc; at most limit.
	SearchText(ctx context.Context, owner, query string, minImportance float64, limit int) ([]Record, error)

	// Candidates returns up to limit records carrying an embedding, with
	// importance >= minImportance, ordered by importance desc. An empty
	// owner matches all owners.
	Candidates(ctx context.Context, owner string, minImportance float64, limit int) ([]Record, error)

	// Delete removes the record for (owner, key). Returns ErrNotFound
	// when no row matched.
	Delete(ctx context.Context, owner, key string) error

	// Touch increments access_count and refreshes last_accessed_at for
	// the given row IDs.
	Touch(ctx context.Context, ids []string) error

	// Stats aggregates per-owner counters.
	Stats(ctx context.Context, owner string) (*Stats, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) bool

	// Close releases the underlying pool.
	Close() error
}

// Embedder converts text to fixed-dimension vectors. Implementations:
// embedder/ollama (HTTP service), embedder/mock (deterministic, for tests).
type Embedder interface {
	// Embed converts a single text to a vector of Dimensions() length.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds several texts concurrently. Entries whose embed
	// failed are nil; the call itself only errors on ctx cancellation.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
