package memory

import (
	"fmt"
	"log"
	"math"
	"sort"
)

// CosineSimilarity computes dot(a,b) / (‖a‖·‖b‖) in [-1, 1].
// Vectors of different lengths are not comparable and return an error;
// callers ranking a batch exclude such candidates instead of failing.
// An all-zero vector on either side scores 0 so sort order stays defined.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// rankBySimilarity scores every candidate against the query vector and
// returns them sorted by similarity descending, truncated to limit.
// Candidates with a mismatched embedding dimension are skipped.
// The sort is stable: equal scores keep the store's return order.
func rankBySimilarity(query []float32, candidates []Record, limit int) []ScoredRecord {
	scored := make([]ScoredRecord, 0, len(candidates))
	for _, rec := range candidates {
		sim, err := CosineSimilarity(query, rec.Embedding)
		if err != nil {
			log.Printf("[MEMORY] Skipping unscoreable record %s: %v", rec.ID, err)
			continue
		}
		s := sim
		scored = append(scored, ScoredRecord{
			Record:      rec,
			SourceLayer: LayerEmbedding,
			Similarity:  &s,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].Similarity > *scored[j].Similarity
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
