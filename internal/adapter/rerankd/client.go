// Package rerankd is the HTTP client for the cross-encoder scoring runtime.
// Construction is expensive (the runtime loads model weights onto the
// resolved device), so callers hold a single Client behind a shared handle
// rather than building one per request.
package rerankd

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

	"retrieval-orchestrator/internal/domain"
)

// DeviceAuto asks the constructor to probe the runtime for the best
// available device. The resolved name is what goes on the wire.
const DeviceAuto = "auto"

const unloadTimeout = 5 * time.Second

// RerankRequest is the request payload for the rerank endpoint.
type RerankRequest struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
	Model      string   `json:"model,omitempty"`
	TopK       int      `json:"top_k,omitempty"`
}

// RerankResponseResult is a single result in the rerank response.
type RerankResponseResult struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// RerankResponse is the response from the rerank endpoint.
type RerankResponse struct {
	Results          []RerankResponseResult `json:"results"`
	Model            string                 `json:"model"`
	ProcessingTimeMs *float64               `json:"processing_time_ms,omitempty"`
}

type devicesResponse struct {
	Devices []string `json:"devices"`
}

type loadRequest struct {
	Model  string `json:"model"`
	Device string `json:"device"`
}

type unloadRequest struct {
	Model string `json:"model"`
}

// Client implements domain.Reranker via HTTP calls to the scoring runtime.
type Client struct {
	BaseURL string
	Model   string
	Device  string
	Client  *http.Client
	logger  *slog.Logger
}

// NewClient constructs a client and loads the model onto the runtime.
// A device of "auto" is resolved against GET /v1/devices before the load
// call; the literal "auto" never crosses the wire. If httpClient is nil,
// a default client is created with the given timeout.
func NewClient(ctx context.Context, baseURL, model, device string, timeout time.Duration, logger *slog.Logger, httpClient ...*http.Client) (*Client, error) {
	var hc *http.Client
	if len(httpClient) > 0 && httpClient[0] != nil {
		hc = httpClient[0]
	} else {
		hc = &http.Client{Timeout: timeout}
	}

	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Device:  device,
		Client:  hc,
		logger:  logger,
	}

	if c.Device == "" || c.Device == DeviceAuto {
		resolved, err := c.resolveDevice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve device: %w", err)
		}
		c.Device = resolved
	}

	if err := c.loadModel(ctx); err != nil {
		return nil, err
	}

	c.logger.Info("reranker_model_loaded",
		slog.String("model", c.Model),
		slog.String("device", c.Device))

	return c, nil
}

// resolveDevice picks the first accelerator the runtime reports, falling
// back to cpu when none is listed.
func (c *Client) resolveDevice(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/v1/devices", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create devices request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call devices endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("devices endpoint returned %d", resp.StatusCode)
	}

	var devResp devicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&devResp); err != nil {
		return "", fmt.Errorf("failed to decode devices response: %w", err)
	}

	for _, d := range devResp.Devices {
		if d != "" && d != "cpu" {
			return d, nil
		}
	}
	return "cpu", nil
}

func (c *Client) loadModel(ctx context.Context) error {
	payload, err := json.Marshal(loadRequest{Model: c.Model, Device: c.Device})
	if err != nil {
		return fmt.Errorf("failed to marshal load request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/models/load", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create load request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call load endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("load endpoint returned %d: %s",
			resp.StatusCode, truncateString(string(body), 200))
	}
	return nil
}

// Rerank scores candidates against the query in one batched call.
// Results come back sorted by score descending, mapped to candidate IDs.
func (c *Client) Rerank(ctx context.Context, query string, candidates []domain.RerankCandidate) ([]domain.RerankResult, error) {
	if len(candidates) == 0 {
		return []domain.RerankResult{}, nil
	}

	startTime := time.Now()

	c.logger.Info("reranking_started",
		slog.String("query", truncateString(query, 100)),
		slog.Int("candidate_count", len(candidates)),
		slog.String("model", c.Model))

	contents := make([]string, len(candidates))
	for i, cand := range candidates {
		contents[i] = cand.Content
	}

	reqBody := RerankRequest{
		Query:      query,
		Candidates: contents,
		Model:      c.Model,
	}

	jsonPayload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/rerank", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		c.logger.Warn("reranking_failed",
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(startTime).Milliseconds()))
		return nil, fmt.Errorf("failed to call rerank endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Warn("reranking_failed",
			slog.Int("status_code", resp.StatusCode),
			slog.String("body", truncateString(string(body), 500)),
			slog.Int64("elapsed_ms", time.Since(startTime).Milliseconds()))
		return nil, fmt.Errorf("rerank endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var rerankResp RerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rerankResp); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	results := make([]domain.RerankResult, len(rerankResp.Results))
	for i, r := range rerankResp.Results {
		if r.Index < 0 || r.Index >= len(candidates) {
			return nil, fmt.Errorf("invalid result index %d for %d candidates", r.Index, len(candidates))
		}
		results[i] = domain.RerankResult{
			ID:    candidates[r.Index].ID,
			Score: r.Score,
		}
	}

	c.logger.Info("reranking_completed",
		slog.Int("result_count", len(results)),
		slog.String("model", rerankResp.Model),
		slog.Int64("elapsed_ms", time.Since(startTime).Milliseconds()))

	return results, nil
}

// ModelName returns the model identifier for logging/debugging.
func (c *Client) ModelName() string {
	return c.Model
}

// Close unloads the model from the runtime and drops idle connections.
// Called at process teardown, never per request.
func (c *Client) Close() error {
	defer c.Client.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
	defer cancel()

	payload, err := json.Marshal(unloadRequest{Model: c.Model})
	if err != nil {
		return fmt.Errorf("failed to marshal unload request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/models/unload", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create unload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call unload endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unload endpoint returned %d", resp.StatusCode)
	}

	c.logger.Info("reranker_model_unloaded", slog.String("model", c.Model))
	return nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

var _ domain.Reranker = (*Client)(nil)
