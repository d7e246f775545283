// Package qdrant serves passage similarity search from a Qdrant
// collection, as the alternative index backend to pgvector.
package qdrant

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	qd "github.com/qdrant/go-client/qdrant"

	"retrieval-orchestrator/internal/domain"
)

// payload keys written by the ingestion side.
const (
	payloadContent    = "content"
	payloadDocumentID = "document_id"
	payloadPath       = "path"
)

// prefixOverFetch widens the candidate window when a path prefix filter
// must be applied client-side; Qdrant payload indexes have no prefix
// condition.
const prefixOverFetch = 4

// Options configures the Qdrant passage index.
type Options struct {
	// Addr is the gRPC endpoint, host:port.
	Addr       string
	Collection string
	APIKey     string
	UseTLS     bool
}

// PassageIndex implements domain.VectorIndex on a Qdrant collection.
type PassageIndex struct {
	client     *qd.Client
	collection string
}

// NewPassageIndex connects to Qdrant over gRPC.
func NewPassageIndex(opts Options) (*PassageIndex, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}
	if opts.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}

	host, portStr, err := net.SplitHostPort(opts.Addr)
	if err != nil {
		host = opts.Addr
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant port %q: %w", portStr, err)
	}

	client, err := qd.NewClient(&qd.Config{
		Host:   host,
		Port:   port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &PassageIndex{
		client:     client,
		collection: opts.Collection,
	}, nil
}

// Search returns the k most similar passages. Document and metadata
// filters run server-side; the path prefix filter runs client-side over
// an over-fetched window.
func (p *PassageIndex) Search(ctx context.Context, vector []float32, k int, filters domain.Filters) ([]domain.IndexHit, error) {
	if k <= 0 {
		return []domain.IndexHit{}, nil
	}

	fetch := uint64(k)
	if filters.PathPrefix != "" {
		fetch = uint64(k * prefixOverFetch)
	}

	req := &qd.QueryPoints{
		CollectionName: p.collection,
		Query:          qd.NewQuery(vector...),
		WithPayload:    qd.NewWithPayload(true),
		Limit:          &fetch,
	}
	if filter := buildFilter(filters); filter != nil {
		req.Filter = filter
	}

	points, err := p.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query failed: %w", err)
	}

	hits := make([]domain.IndexHit, 0, len(points))
	for _, point := range points {
		hit := convertPoint(point)
		if filters.PathPrefix != "" && !strings.HasPrefix(hit.Passage.Path, filters.PathPrefix) {
			continue
		}
		hits = append(hits, hit)
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Ping reports whether the Qdrant server answers, for readiness checks.
func (p *PassageIndex) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant unreachable: %w", err)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (p *PassageIndex) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close qdrant client: %w", err)
	}
	return nil
}

func buildFilter(filters domain.Filters) *qd.Filter {
	var must []*qd.Condition

	if len(filters.DocumentIDs) > 0 {
		must = append(must, qd.NewMatchKeywords(payloadDocumentID, filters.DocumentIDs...))
	}
	for key, value := range filters.Metadata {
		must = append(must, qd.NewMatch(key, value))
	}

	if len(must) == 0 {
		return nil
	}
	return &qd.Filter{Must: must}
}

func convertPoint(point *qd.ScoredPoint) domain.IndexHit {
	hit := domain.IndexHit{Similarity: point.Score}

	if point.Id != nil {
		if u := point.Id.GetUuid(); u != "" {
			hit.Passage.ID = u
		} else {
			hit.Passage.ID = strconv.FormatUint(point.Id.GetNum(), 10)
		}
	}

	for key, value := range point.Payload {
		switch key {
		case payloadContent:
			hit.Passage.Text = value.GetStringValue()
		case payloadDocumentID:
			hit.Passage.DocumentID = value.GetStringValue()
		case payloadPath:
			hit.Passage.Path = value.GetStringValue()
		default:
			if s := value.GetStringValue(); s != "" {
				if hit.Passage.Metadata == nil {
					hit.Passage.Metadata = make(map[string]string)
				}
				hit.Passage.Metadata[key] = s
			}
		}
	}
	return hit
}

var _ domain.VectorIndex = (*PassageIndex)(nil)
