package domain

import "errors"

// Pipeline error taxonomy. Stages wrap these sentinels with fmt.Errorf("%w")
// so callers can branch with errors.Is without parsing messages.
var (
	// ErrInvalidRequest marks validation failures at the pipeline boundary.
	ErrInvalidRequest = errors.New("invalid retrieval request")

	// ErrEnhancementFailure marks one enhancement strategy failing. It is
	// handled locally: the strategy is skipped and the pipeline continues
	// with the remaining variants.
	ErrEnhancementFailure = errors.New("query enhancement failed")

	// ErrRetrievalUnavailable marks one variant retrieval failing after the
	// encoder or the index reported an error. The orchestrator retries once
	// and then excludes the variant.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrRerankUnavailable marks reranking being unusable for this request.
	// The rerank stage falls back to the pre-rerank order.
	ErrRerankUnavailable = errors.New("reranking unavailable")

	// ErrTotalRetrievalFailure is surfaced when no query variant produced
	// candidates. It is the only retrieval error callers see.
	ErrTotalRetrievalFailure = errors.New("all variant retrievals failed")

	// ErrRateLimited marks load shedding: an upstream 429 or the local
	// worker queue being full. The transport maps it to 429.
	ErrRateLimited = errors.New("rate limited")
)
