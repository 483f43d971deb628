package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config holds Engine tuning knobs.
type Config struct {
	// DefaultTTL is the L1 entry lifetime when a Store does not set one.
	DefaultTTL time.Duration

	// CacheTimeout bounds individual cache operations.
	CacheTimeout time.Duration

	// QueryTimeout bounds persistent store queries, including the
	// fire-and-forget access-count updates.
	QueryTimeout time.Duration

	// EmbedTimeout bounds embedding service calls.
	EmbedTimeout time.Duration

	// RecallCandidates caps the semantic candidate set fetched during the
	// Recall L3 probe. The cap biases recall toward high-importance
	// records; this is a known approximation, not an exact top-K.
	RecallCandidates int

	// SearchCandidates caps the candidate set for Search.
	SearchCandidates int

	// MaxQueryLen caps query text length.
	MaxQueryLen int

	// MaxResults caps how many results a single call may request.
	MaxResults int
}

// DefaultConfig returns sensible defaults matching the original service
// limits (1h cache TTL, 100/200 candidate caps, 50 result ceiling).
var DefaultConfig = &Config{
	DefaultTTL:       time.Hour,
	CacheTimeout:     2 * time.Second,
	QueryTimeout:     15 * time.Second,
	EmbedTimeout:     30 * time.Second,
	RecallCandidates: 100,
	SearchCandidates: 200,
	MaxQueryLen:      2000,
	MaxResults:       50,
}

// Engine composes the three storage tiers into the remember-and-recall
// operations. All clients are injected at construction and owned by the
// caller; the engine itself holds no global state.
//
// Operations are safe for concurrent use. The persistent store's row-level
// upsert is the only serialization point; last writer wins.
type Engine struct {
	cache    CacheStore
	store    RecordStore
	embedder Embedder
	config   *Config

	// Tracks fire-and-forget side effects (cache warming, access-count
	// updates) so Close can drain them at shutdown.
	wg sync.WaitGroup
}

// NewEngine creates an Engine over the given tier backends.
func NewEngine(cache CacheStore, store RecordStore, embedder Embedder, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig
	}
	return &Engine{
		cache:    cache,
		store:    store,
		embedder: embedder,
		config:   config,
	}
}

// Close waits for pending asynchronous side effects to finish. It does not
// close the injected backends; whoever constructed them closes them.
func (e *Engine) Close() error {
	e.wg.Wait()
	return nil
}

// StoreRequest is the input to Store.
type StoreRequest struct {
	Owner string
	Key   string

	// Content is any JSON-serializable payload.
	Content interface{}

	// Importance must be in [0,1].
	Importance float64

	// TTL for the L1 entry; zero means Config.DefaultTTL.
	TTL time.Duration

	Metadata map[string]interface{}
}

// RecallRequest is the input to Recall.
type RecallRequest struct {
	Owner string
	Query string

	// MaxResults defaults to 5; capped at Config.MaxResults.
	MaxResults int

	// MinImportance filters out records below this importance, in [0,1].
	MinImportance float64
}

// SearchRequest is the input to Search.
type SearchRequest struct {
	// Owner is optional; empty searches across all owners.
	Owner string
	Query string

	// MaxResults defaults to 10; capped at Config.MaxResults.
	MaxResults int
}

// cacheEntry is the L1 snapshot of a record. It is deliberately thinner
// than a full Record: losing it never loses data, only retrieval speed.
type cacheEntry struct {
	ID         string          `json:"id"`
	Content    json.RawMessage `json:"content"`
	Importance float64         `json:"importance"`
}

// Store writes a memory across the tiers, best-effort per tier:
//
//	L1: cache the content snapshot under (owner, key) with the TTL
//	L3: request an embedding for the serialized content
//	L2: upsert the durable record, attaching the embedding if one arrived
//
// The cache write runs concurrently with the embed+upsert pair. No tier
// failure alone fails the call; the per-tier outcome comes back in
// StoreResult. Only when both the cache write and the persistent upsert
// fail, leaving no trace of the write anywhere, does Store return
// ErrAllTiersFailed.
func (e *Engine) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	start := time.Now()

	if req.Owner == "" || req.Key == "" {
		return nil, fmt.Errorf("%w: owner and key are required", ErrInvalidInput)
	}
	if req.Importance < 0 || req.Importance > 1 {
		return nil, fmt.Errorf("%w: importance %g outside [0,1]", ErrInvalidInput, req.Importance)
	}
	content, err := json.Marshal(req.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: content not serializable: %v", ErrInvalidInput, err)
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = e.config.DefaultTTL
	}

	id := uuid.New().String()

	// L1 runs concurrently with the embed+upsert pair: the tiers are
	// independent and nothing here blocks on the cache outcome.
	cacheCh := make(chan bool, 1)
	snapshot, _ := json.Marshal(cacheEntry{ID: id, Content: content, Importance: req.Importance})
	go func() {
		cctx, cancel := context.WithTimeout(ctx, e.config.CacheTimeout)
		defer cancel()
		cacheCh <- e.cache.Set(cctx, entryKey(req.Owner, req.Key), snapshot, ttl)
	}()

	// L3: embedding is best-effort; a miss here downgrades the write to
	// unindexed, it never fails it.
	embeddingStatus := TierSkipped
	var embedding []float32
	ectx, cancel := context.WithTimeout(ctx, e.config.EmbedTimeout)
	embedding, err = e.embedder.Embed(ectx, string(content))
	cancel()
	if err != nil {
		log.Printf("[MEMORY] Embedding skipped for %s/%s: %v", req.Owner, req.Key, err)
		embedding = nil
	} else {
		embeddingStatus = TierIndexed
	}

	// L2: the authoritative write. A nil embedding preserves whatever
	// vector an earlier successful write stored.
	persistentStatus := TierOK
	rec := &Record{
		ID:         id,
		Owner:      req.Owner,
		Key:        req.Key,
		Content:    content,
		Embedding:  embedding,
		Importance: req.Importance,
		Metadata:   req.Metadata,
	}
	qctx, cancel := context.WithTimeout(ctx, e.config.QueryTimeout)
	storedID, err := e.store.Upsert(qctx, rec)
	cancel()
	if err != nil {
		log.Printf("[MEMORY] Persistent store failed for %s/%s: %v", req.Owner, req.Key, err)
		persistentStatus = TierFailed
	} else {
		id = storedID
	}

	cacheStatus := TierFailed
	if <-cacheCh {
		cacheStatus = TierOK
	}

	if cacheStatus == TierFailed && persistentStatus == TierFailed {
		return nil, fmt.Errorf("%w: store of %s/%s", ErrAllTiersFailed, req.Owner, req.Key)
	}

	return &StoreResult{
		ID: id,
		Layers: Layers{
			Cache:      cacheStatus,
			Persistent: persistentStatus,
			Embedding:  embeddingStatus,
		},
		Latency: time.Since(start),
	}, nil
}

// Recall retrieves memories by cascading through the tiers in strict
// order, stopping at the first tier that yields anything:
//
//	L1: exact-key probe with the query treated as a literal key
//	L2: substring match over key/content, ranked by importance
//	L3: cosine similarity over the bounded semantic candidate set
//
// L2 hits warm the cache so a repeated identical recall becomes an L1 hit.
// MinImportance applies to every tier, the cache included: a cached entry
// below the filter is a miss, not a hit. Whatever tier answered, access
// counts of the returned records are refreshed asynchronously. An empty
// result is not an error.
func (e *Engine) Recall(ctx context.Context, req RecallRequest) (*RecallResult, error) {
	start := time.Now()

	if err := e.validateQuery(req.Owner, req.Query, req.MinImportance); err != nil {
		return nil, err
	}
	limit, err := e.clampResults(req.MaxResults, 5)
	if err != nil {
		return nil, err
	}

	// L1: exact probe.
	cctx, cancel := context.WithTimeout(ctx, e.config.CacheTimeout)
	data, ok := e.cache.Get(cctx, entryKey(req.Owner, req.Query))
	cancel()
	if ok {
		var entry cacheEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			log.Printf("[MEMORY] Discarding undecodable cache entry for %s/%s", req.Owner, req.Query)
		} else if entry.Importance >= req.MinImportance {
			exact := 1.0
			hit := ScoredRecord{
				Record: Record{
					ID:         entry.ID,
					Owner:      req.Owner,
					Key:        req.Query,
					Content:    entry.Content,
					Importance: entry.Importance,
				},
				SourceLayer: LayerCache,
				Similarity:  &exact,
			}
			e.touchAsync([]string{entry.ID})
			return &RecallResult{
				Results:     []ScoredRecord{hit},
				SourceLayer: LayerCache,
				Latency:     time.Since(start),
			}, nil
		}
		// A cached entry below the importance filter counts as a miss and
		// the cascade continues; the lower tiers apply the same filter.
	}

	// L2: structured probe. Store outages degrade to the next tier.
	qctx, cancel := context.WithTimeout(ctx, e.config.QueryTimeout)
	records, err := e.store.SearchText(qctx, req.Owner, req.Query, req.MinImportance, limit)
	cancel()
	if err != nil {
		log.Printf("[MEMORY] L2 recall failed for %s: %v", req.Owner, err)
	}
	if len(records) > 0 {
		results := make([]ScoredRecord, len(records))
		ids := make([]string, len(records))
		for i, rec := range records {
			results[i] = ScoredRecord{Record: rec, SourceLayer: LayerPersistent}
			ids[i] = rec.ID
		}
		e.warmAsync(records)
		e.touchAsync(ids)
		return &RecallResult{
			Results:     results,
			SourceLayer: LayerPersistent,
			Latency:     time.Since(start),
		}, nil
	}

	// L3: semantic probe. An unreachable embedder means an empty result,
	// not a failure.
	ectx, cancel := context.WithTimeout(ctx, e.config.EmbedTimeout)
	queryVec, err := e.embedder.Embed(ectx, req.Query)
	cancel()
	if err != nil {
		log.Printf("[MEMORY] L3 recall skipped, embedder unavailable: %v", err)
		return &RecallResult{SourceLayer: LayerNone, Latency: time.Since(start)}, nil
	}

	qctx, cancel = context.WithTimeout(ctx, e.config.QueryTimeout)
	candidates, err := e.store.Candidates(qctx, req.Owner, req.MinImportance, e.config.RecallCandidates)
	cancel()
	if err != nil {
		log.Printf("[MEMORY] L3 recall failed for %s: %v", req.Owner, err)
		return &RecallResult{SourceLayer: LayerNone, Latency: time.Since(start)}, nil
	}

	results := rankBySimilarity(queryVec, candidates, limit)
	if len(results) == 0 {
		return &RecallResult{SourceLayer: LayerNone, Latency: time.Since(start)}, nil
	}

	ids := make([]string, len(results))
	for i := range results {
		ids[i] = results[i].ID
	}
	e.touchAsync(ids)

	return &RecallResult{
		Results:     results,
		SourceLayer: LayerEmbedding,
		Latency:     time.Since(start),
	}, nil
}

// Search ranks memories purely by semantic similarity; there is no cache
// or substring fallback. Unlike Recall, the embedding service is this
// operation's sole entry point, so its unavailability is a hard error.
func (e *Engine) Search(ctx context.Context, req SearchRequest) ([]ScoredRecord, error) {
	if req.Query == "" || len(req.Query) > e.config.MaxQueryLen {
		return nil, fmt.Errorf("%w: query must be 1..%d characters", ErrInvalidInput, e.config.MaxQueryLen)
	}
	limit, err := e.clampResults(req.MaxResults, 10)
	if err != nil {
		return nil, err
	}

	ectx, cancel := context.WithTimeout(ctx, e.config.EmbedTimeout)
	queryVec, err := e.embedder.Embed(ectx, req.Query)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedderUnavailable, err)
	}

	qctx, cancel := context.WithTimeout(ctx, e.config.QueryTimeout)
	candidates, err := e.store.Candidates(qctx, req.Owner, 0, e.config.SearchCandidates)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}

	// All candidates are scored and fully sorted before truncation; no
	// early exit that could bias ties.
	return rankBySimilarity(queryVec, candidates, limit), nil
}

// Delete removes a memory from every tier. The cache invalidation is
// best-effort; the persistent delete decides the outcome and reports
// ErrNotFound when there was no such record.
func (e *Engine) Delete(ctx context.Context, owner, key string) error {
	if owner == "" || key == "" {
		return fmt.Errorf("%w: owner and key are required", ErrInvalidInput)
	}

	cctx, cancel := context.WithTimeout(ctx, e.config.CacheTimeout)
	if !e.cache.Delete(cctx, entryKey(owner, key)) {
		log.Printf("[MEMORY] Cache invalidation failed for %s/%s", owner, key)
	}
	cancel()

	qctx, cancel := context.WithTimeout(ctx, e.config.QueryTimeout)
	defer cancel()
	return e.store.Delete(qctx, owner, key)
}

// Stats returns the per-owner aggregate counters from the persistent store.
func (e *Engine) Stats(ctx context.Context, owner string) (*Stats, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	qctx, cancel := context.WithTimeout(ctx, e.config.QueryTimeout)
	defer cancel()
	return e.store.Stats(qctx, owner)
}

// entryKey derives the L1 key for a record.
func entryKey(owner, key string) string {
	return "mem:" + owner + ":" + key
}

func (e *Engine) validateQuery(owner, query string, minImportance float64) error {
	if owner == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if query == "" || len(query) > e.config.MaxQueryLen {
		return fmt.Errorf("%w: query must be 1..%d characters", ErrInvalidInput, e.config.MaxQueryLen)
	}
	if minImportance < 0 || minImportance > 1 {
		return fmt.Errorf("%w: min importance %g outside [0,1]", ErrInvalidInput, minImportance)
	}
	return nil
}

func (e *Engine) clampResults(requested, fallback int) (int, error) {
	if requested == 0 {
		return fallback, nil
	}
	if requested < 0 || requested > e.config.MaxResults {
		return 0, fmt.Errorf("%w: max results %d outside [1,%d]", ErrInvalidInput, requested, e.config.MaxResults)
	}
	return requested, nil
}

// touchAsync bumps access counters for the given records without blocking
// the caller. Failures are logged and dropped.
func (e *Engine) touchAsync(ids []string) {
	live := ids[:0:0]
	for _, id := range ids {
		if id != "" {
			live = append(live, id)
		}
	}
	if len(live) == 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.config.QueryTimeout)
		defer cancel()
		if err := e.store.Touch(ctx, live); err != nil {
			log.Printf("[MEMORY] Access count update failed: %v", err)
		}
	}()
}

// warmAsync writes L2 hits back into L1 so the next identical recall is
// an exact cache hit.
func (e *Engine) warmAsync(records []Record) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.config.QueryTimeout)
		defer cancel()
		for _, rec := range records {
			snapshot, err := json.Marshal(cacheEntry{
				ID:         rec.ID,
				Content:    rec.Content,
				Importance: rec.Importance,
			})
			if err != nil {
				continue
			}
			if !e.cache.Set(ctx, entryKey(rec.Owner, rec.Key), snapshot, e.config.DefaultTTL) {
				log.Printf("[MEMORY] Cache warming failed for %s/%s", rec.Owner, rec.Key)
			}
		}
	}()
}
