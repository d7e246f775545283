package domain

import (
	"context"
	"time"
)

// QueryEvent summarizes one completed retrieval for downstream analytics.
// Events carry aggregates only, never passage text.
type QueryEvent struct {
	RetrievalID  string
	Fingerprint  string
	Mode         Mode
	Complexity   string // empty unless mode is adaptive
	K            int
	VariantCount int
	PassageCount int
	Degraded     []string
	CacheHit     bool
	Elapsed      time.Duration
}

// AnalyticsSink receives query events at the pipeline boundary. Recording
// must never fail a request; implementations log and drop on error.
type AnalyticsSink interface {
	Record(ctx context.Context, event QueryEvent)
}
