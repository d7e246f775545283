// Package analytics emits per-query events for offline analysis of mode
// and strategy effectiveness.
package analytics

import (
	"context"
	"log/slog"

	"retrieval-orchestrator/internal/domain"
)

// SlogSink writes query events as structured log records. The log
// pipeline already ships to the analytics store, so no second transport
// is needed.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink writing to the given logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

// Record emits one query event.
func (s *SlogSink) Record(ctx context.Context, event domain.QueryEvent) {
	s.logger.InfoContext(ctx, "query_event",
		slog.String("retrieval_id", event.RetrievalID),
		slog.String("fingerprint", event.Fingerprint),
		slog.String("mode", event.Mode.String()),
		slog.String("complexity", event.Complexity),
		slog.Int("k", event.K),
		slog.Int("variant_count", event.VariantCount),
		slog.Int("passage_count", event.PassageCount),
		slog.Any("degraded", event.Degraded),
		slog.Bool("cache_hit", event.CacheHit),
		slog.Int64("elapsed_ms", event.Elapsed.Milliseconds()),
	)
}

// NopSink drops every event. Used when analytics is disabled and in tests.
type NopSink struct{}

func (NopSink) Record(context.Context, domain.QueryEvent) {}

var (
	_ domain.AnalyticsSink = (*SlogSink)(nil)
	_ domain.AnalyticsSink = NopSink{}
)
