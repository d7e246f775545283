package domain

import "context"

// IndexHit is one nearest-neighbour match from the vector index. The passage
// comes back fully hydrated so the pipeline needs no second lookup.
type IndexHit struct {
	Passage    Passage
	Similarity float32
}

// VectorIndex is the passage store queried by the base retriever. Hits are
// returned ordered by similarity descending; ties may come back in any order,
// ranking makes them deterministic afterwards.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, k int, filters Filters) ([]IndexHit, error)

	// Ping reports whether the backing store is reachable. Used by readiness
	// checks only.
	Ping(ctx context.Context) error
}
