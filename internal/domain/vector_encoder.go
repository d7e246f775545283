package domain

import (
	"context"
)

// VectorEncoder turns query texts into embedding vectors. Implementations
// must be safe under concurrent use and should surface ErrRateLimited on
// upstream throttling so callers can retry.
type VectorEncoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Version() string
}
