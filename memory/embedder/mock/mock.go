// Package mock provides a deterministic memory.Embedder for tests and
// offline development. Vectors come from a hash of the text, so equal
// texts always embed identically; there is no real semantic similarity.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// Embedder generates hash-based unit vectors.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder producing vectors of the given size.
func New(dimensions int) *Embedder {
	return &Embedder{dimensions: dimensions}
}

// Embed creates a deterministic embedding from text.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))

	// LCG seeded by the text hash.
	seed := h.Sum64()
	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

// EmbedBatch embeds texts concurrently, mirroring the real client.
func (m *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			vectors[i], _ = m.Embed(ctx, text)
		}(i, text)
	}
	wg.Wait()
	return vectors, nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// Ping always succeeds.
func (m *Embedder) Ping(ctx context.Context) bool {
	return true
}

// normalize converts the vector to unit length.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
