package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"retrieval-orchestrator/internal/domain"
)

// passageRepository serves cosine similarity search over the passages
// table. Embeddings are written by the ingestion service; this side is
// read-only.
//
// Expected schema:
//
//	passages(id TEXT PRIMARY KEY, document_id TEXT, path TEXT,
//	         content TEXT, metadata JSONB, embedding VECTOR)
type passageRepository struct {
	pool *pgxpool.Pool
}

// NewPassageRepository creates a pgvector-backed VectorIndex.
func NewPassageRepository(pool *pgxpool.Pool) domain.VectorIndex {
	return &passageRepository{pool: pool}
}

const searchQuery = `
	SELECT id, document_id, path, content, metadata,
	       (1 - (embedding <=> $1))::float4 AS similarity
	FROM passages
	WHERE ($2::text[] IS NULL OR document_id = ANY($2))
	  AND ($3::text = '' OR path LIKE $3 || '%')
	  AND ($4::jsonb IS NULL OR metadata @> $4)
	ORDER BY embedding <=> $1
	LIMIT $5
`

// Search returns the k nearest passages by cosine similarity, filtered
// before the LIMIT so filters never shrink the result below k while
// matching passages remain.
func (r *passageRepository) Search(ctx context.Context, vector []float32, k int, filters domain.Filters) ([]domain.IndexHit, error) {
	if k <= 0 {
		return []domain.IndexHit{}, nil
	}

	var docIDs []string
	if len(filters.DocumentIDs) > 0 {
		docIDs = filters.DocumentIDs
	}

	var metadataFilter []byte
	if len(filters.Metadata) > 0 {
		var err error
		metadataFilter, err = json.Marshal(filters.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata filter: %w", err)
		}
	}

	rows, err := r.pool.Query(ctx, searchQuery,
		pgvector.NewVector(vector),
		docIDs,
		filters.PathPrefix,
		metadataFilter,
		k,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query passages: %w", err)
	}
	defer rows.Close()

	var hits []domain.IndexHit
	for rows.Next() {
		var (
			hit      domain.IndexHit
			rawMeta  []byte
			docID    *string
			pathsVal *string
		)
		if err := rows.Scan(&hit.Passage.ID, &docID, &pathsVal, &hit.Passage.Text, &rawMeta, &hit.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan passage: %w", err)
		}
		if docID != nil {
			hit.Passage.DocumentID = *docID
		}
		if pathsVal != nil {
			hit.Passage.Path = *pathsVal
		}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &hit.Passage.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode passage metadata: %w", err)
			}
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return hits, nil
}

// Ping reports whether the database answers, for readiness checks.
func (r *passageRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("passage store unreachable: %w", err)
	}
	return nil
}
