package domain

import "context"

// RetrievalMetadata describes how a result was produced. Degraded lists
// the stages that fell back, so callers can tell a full-quality result
// from a best-effort one.
type RetrievalMetadata struct {
	RetrievalID   string   `json:"retrieval_id"`
	Mode          string   `json:"mode"`
	Complexity    string   `json:"complexity,omitempty"`
	Strategies    []string `json:"strategies,omitempty"`
	VariantCount  int      `json:"variant_count"`
	FusionApplied bool     `json:"fusion_applied"`
	RerankApplied bool     `json:"rerank_applied"`
	Degraded      []string `json:"degraded,omitempty"`
	CacheHit      bool     `json:"cache_hit"`
	ElapsedMS     int64    `json:"elapsed_ms"`
}

// IsDegraded reports whether any pipeline stage fell back.
func (m RetrievalMetadata) IsDegraded() bool {
	return len(m.Degraded) > 0
}

// RetrievalResult is the final outcome of one pipeline run.
type RetrievalResult struct {
	Passages []RerankedResult  `json:"passages"`
	Metadata RetrievalMetadata `json:"metadata"`
}

// ResultCache stores successful results keyed by request fingerprint.
// Implementations degrade internal failures to a miss, never an error;
// a broken cache must not break retrieval.
type ResultCache interface {
	Get(ctx context.Context, key string) (*RetrievalResult, bool)
	Set(ctx context.Context, key string, result *RetrievalResult)
	Close() error
}
