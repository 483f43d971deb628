// Package memory provides a tiered remember-and-recall engine for agents.
//
// Memory lives in three tiers of increasing latency and recall power:
//   - L1 cache: exact-key lookups with TTL (Redis, or ristretto in-process)
//   - L2 persistent store: durable records with substring/importance ranking
//     (PostgreSQL)
//   - L3 semantic index: cosine similarity over embedding vectors computed
//     by an external service (Ollama)
//
// Architecture:
//   - CacheStore / RecordStore / Embedder: backend interfaces, one
//     subpackage per implementation
//   - Engine: orchestrates the write fan-out across tiers and the
//     ordered-fallback read cascade with cache warming
//
// Every tier is individually allowed to fail. Store reports a per-tier
// status map instead of erroring; Recall cascades past unavailable tiers
// and only Search treats the embedding service as mandatory.
package memory
