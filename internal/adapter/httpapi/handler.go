package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/usecase"
	"retrieval-orchestrator/internal/worker"
)

// defaultK is applied when a request omits k entirely. An explicit zero is
// honored and returns an empty result.
const defaultK = 8

const readinessTimeout = 2 * time.Second

// Handler serves the retrieval API. Execution is funneled through the shared
// worker pool so HTTP concurrency cannot outrun the model runtimes.
type Handler struct {
	retrieve usecase.RetrievePassagesUsecase
	pool     *worker.Pool
	index    domain.VectorIndex
	plans    *usecase.Plans
	maxBatch int
	logger   *slog.Logger
}

func NewHandler(
	retrieve usecase.RetrievePassagesUsecase,
	pool *worker.Pool,
	index domain.VectorIndex,
	plans *usecase.Plans,
	maxBatch int,
	logger *slog.Logger,
) *Handler {
	if maxBatch <= 0 {
		maxBatch = 32
	}
	return &Handler{
		retrieve: retrieve,
		pool:     pool,
		index:    index,
		plans:    plans,
		maxBatch: maxBatch,
		logger:   logger,
	}
}

// RegisterRoutes mounts every route. When apiKey is non-empty the v1 group
// requires a matching X-API-Key header.
func (h *Handler) RegisterRoutes(e *echo.Echo, apiKey string) {
	e.GET("/healthz", h.Healthz)
	e.GET("/readyz", h.Readyz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/v1")
	if apiKey != "" {
		v1.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup: "header:X-API-Key",
			Validator: func(key string, _ echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1, nil
			},
		}))
	}
	v1.POST("/retrieve", h.Retrieve)
	v1.POST("/retrieve/batch", h.RetrieveBatch)
	v1.GET("/modes", h.Modes)
}

// Retrieve runs one retrieval request.
// (POST /v1/retrieve)
func (h *Handler) Retrieve(c echo.Context) error {
	var body retrieveRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	req, err := body.toDomain()
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}

	var result *domain.RetrievalResult
	var execErr error
	if err := h.pool.Submit(c.Request().Context(), func(ctx context.Context) {
		result, execErr = h.retrieve.Execute(ctx, req)
	}); err != nil {
		return h.writeError(c, err)
	}
	if execErr != nil {
		return h.writeError(c, execErr)
	}

	return c.JSON(http.StatusOK, toRetrieveResponse(result))
}

// RetrieveBatch runs up to maxBatch requests on the shared pool and returns
// one envelope per item. A failing item never fails its siblings.
// (POST /v1/retrieve/batch)
func (h *Handler) RetrieveBatch(c echo.Context) error {
	var body batchRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	if len(body.Requests) == 0 {
		return c.JSON(http.StatusBadRequest, errorBody("requests must not be empty"))
	}
	if len(body.Requests) > h.maxBatch {
		return c.JSON(http.StatusBadRequest, errorBody(
			fmt.Sprintf("batch size %d exceeds maximum %d", len(body.Requests), h.maxBatch)))
	}

	reqCtx := c.Request().Context()
	items := make([]batchItem, len(body.Requests))
	var wg sync.WaitGroup
	for i, itemReq := range body.Requests {
		req, err := itemReq.toDomain()
		if err != nil {
			items[i] = batchItem{Status: http.StatusBadRequest, Error: err.Error()}
			continue
		}

		wg.Add(1)
		go func(i int, req domain.RetrievalRequest) {
			defer wg.Done()

			var result *domain.RetrievalResult
			var execErr error
			if err := h.pool.Submit(reqCtx, func(ctx context.Context) {
				result, execErr = h.retrieve.Execute(ctx, req)
			}); err != nil {
				items[i] = batchItem{Status: statusFor(err), Error: err.Error()}
				return
			}
			if execErr != nil {
				items[i] = batchItem{Status: statusFor(execErr), Error: execErr.Error()}
				return
			}
			resp := toRetrieveResponse(result)
			items[i] = batchItem{Status: http.StatusOK, Result: &resp}
		}(i, req)
	}
	wg.Wait()

	return c.JSON(http.StatusOK, batchResponse{Results: items})
}

// Modes returns the resolved plan table.
// (GET /v1/modes)
func (h *Handler) Modes(c echo.Context) error {
	table := h.plans.Table()
	out := make(map[string]modePlanDTO, len(table))
	for label, plan := range table {
		out[label] = toPlanDTO(plan)
	}
	return c.JSON(http.StatusOK, modesResponse{Modes: out})
}

// Healthz is the liveness probe.
// (GET /healthz)
func (h *Handler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz pings the vector index backend.
// (GET /readyz)
func (h *Handler) Readyz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessTimeout)
	defer cancel()

	if err := h.index.Ping(ctx); err != nil {
		h.logger.Warn("readiness_check_failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) writeError(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request_failed",
			slog.Int("status", status),
			slog.String("error", err.Error()))
	}
	return c.JSON(status, errorBody(err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrTotalRetrievalFailure):
		return http.StatusServiceUnavailable
	case errors.Is(err, worker.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
