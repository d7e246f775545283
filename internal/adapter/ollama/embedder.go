package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"

	"retrieval-orchestrator/internal/domain"
)

// EmbedderOptions tunes client-side throttling and retry behavior.
type EmbedderOptions struct {
	// RequestsPerSecond caps outgoing embed calls; zero disables the limiter.
	RequestsPerSecond float64
	// RetryAttempts is the total number of attempts per call, minimum 1.
	RetryAttempts int
}

// Embedder implements domain.VectorEncoder against Ollama's embed endpoint.
type Embedder struct {
	BaseURL string
	Model   string
	Client  *http.Client
	limiter *rate.Limiter
	retries uint
	logger  *slog.Logger
}

// NewEmbedder constructs an embedder client. A nil http.Client gets a
// default with a 30 second timeout.
func NewEmbedder(baseURL, model string, client *http.Client, opts EmbedderOptions, logger *slog.Logger) *Embedder {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	retries := uint(1)
	if opts.RetryAttempts > 0 {
		retries = uint(opts.RetryAttempts)
	}
	return &Embedder{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Client:  client,
		limiter: limiter,
		retries: retries,
		logger:  logger,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Encode returns one embedding per input text, in input order.
func (e *Embedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embed rate limit wait: %w", err)
		}
	}

	start := time.Now()
	e.logger.Debug("ollama_embed_started",
		slog.Int("text_count", len(texts)),
		slog.String("model", e.Model),
	)

	reqBody := embedRequest{
		Model: e.Model,
		Input: texts,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var respBody embedResponse
	err = retry.Do(
		func() error {
			return e.doEmbed(ctx, jsonData, &respBody)
		},
		retry.Attempts(e.retries),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		e.logger.Error("ollama_embed_failed",
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
		)
		return nil, err
	}

	if len(respBody.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed count mismatch: sent %d texts, got %d embeddings",
			len(texts), len(respBody.Embeddings))
	}

	e.logger.Debug("ollama_embed_completed",
		slog.Int("embedding_count", len(respBody.Embeddings)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)

	return respBody.Embeddings, nil
}

func (e *Embedder) doEmbed(ctx context.Context, payload []byte, out *embedResponse) error {
	url := fmt.Sprintf("%s/api/embed", e.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call embed endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: embed endpoint throttled", domain.ErrRateLimited)
	case resp.StatusCode >= 500:
		return fmt.Errorf("embed endpoint returned status: %d", resp.StatusCode)
	default:
		body, _ := io.ReadAll(resp.Body)
		return retry.Unrecoverable(fmt.Errorf("embed endpoint returned %d: %s",
			resp.StatusCode, truncateString(string(body), 200)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to decode embed response: %w", err))
	}
	return nil
}

// Version returns the embedding model name. Stored vectors are only
// comparable to query vectors produced by the same model.
func (e *Embedder) Version() string {
	return e.Model
}

var _ domain.VectorEncoder = (*Embedder)(nil)
