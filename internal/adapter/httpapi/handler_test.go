package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrieval-orchestrator/internal/adapter/httpapi"
	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/usecase"
	"retrieval-orchestrator/internal/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type stubRetrieveUsecase struct {
	mu      sync.Mutex
	result  *domain.RetrievalResult
	err     error
	lastReq domain.RetrievalRequest
	calls   int
}

func (s *stubRetrieveUsecase) Execute(_ context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubRetrieveUsecase) last() domain.RetrievalRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReq
}

type stubIndex struct {
	pingErr error
}

func (s *stubIndex) Search(context.Context, []float32, int, domain.Filters) ([]domain.IndexHit, error) {
	return nil, nil
}

func (s *stubIndex) Ping(context.Context) error { return s.pingErr }

func sampleResult() *domain.RetrievalResult {
	return &domain.RetrievalResult{
		Passages: []domain.RerankedResult{
			{Passage: domain.Passage{ID: "p-1", DocumentID: "doc-1", Text: "first passage"}, Score: 0.92},
			{Passage: domain.Passage{ID: "p-2", DocumentID: "doc-2", Text: "second passage"}, Score: 0.81},
		},
		Metadata: domain.RetrievalMetadata{
			RetrievalID:  "rid-1",
			Mode:         "balanced",
			VariantCount: 3,
		},
	}
}

type fixture struct {
	echo    *echo.Echo
	handler *httpapi.Handler
	usecase *stubRetrieveUsecase
	index   *stubIndex
	pool    *worker.Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	uc := &stubRetrieveUsecase{result: sampleResult()}
	index := &stubIndex{}
	pool := worker.NewPool(2, 8, 5*time.Second, testLogger())
	pool.Start()
	t.Cleanup(pool.Stop)

	plans := usecase.DefaultPlans()
	h := httpapi.NewHandler(uc, pool, index, plans, 4, testLogger())

	e := echo.New()
	h.RegisterRoutes(e, "")

	return &fixture{echo: e, handler: h, usecase: uc, index: index, pool: pool}
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type wireResponse struct {
	Passages []struct {
		PassageID  string  `json:"passage_id"`
		DocumentID string  `json:"document_id"`
		Text       string  `json:"text"`
		Score      float64 `json:"score"`
		Rank       int     `json:"rank"`
		Fallback   bool    `json:"fallback_score"`
	} `json:"passages"`
	Metadata struct {
		RetrievalID  string   `json:"retrieval_id"`
		Mode         string   `json:"mode"`
		VariantCount int      `json:"variant_count"`
		Degraded     []string `json:"degraded"`
		CacheHit     bool     `json:"cache_hit"`
	} `json:"metadata"`
}

func TestRetrieve_OK(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(fx.echo, http.MethodPost, "/v1/retrieve",
		`{"question":"how are carrier liability caps applied","mode":"fast","k":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp wireResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Passages, 2)
	assert.Equal(t, "p-1", resp.Passages[0].PassageID)
	assert.Equal(t, 1, resp.Passages[0].Rank)
	assert.Equal(t, 2, resp.Passages[1].Rank)
	assert.InDelta(t, 0.92, resp.Passages[0].Score, 1e-9)
	assert.Equal(t, "rid-1", resp.Metadata.RetrievalID)

	got := fx.usecase.last()
	assert.Equal(t, domain.ModeFast, got.Mode)
	assert.Equal(t, 3, got.K)
}

func TestRetrieve_DefaultsModeAndK(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(fx.echo, http.MethodPost, "/v1/retrieve", `{"question":"defaults"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got := fx.usecase.last()
	assert.Equal(t, domain.ModeBalanced, got.Mode)
	assert.Equal(t, 8, got.K)
}

func TestRetrieve_ExplicitZeroKIsPassedThrough(t *testing.T) {
	fx := newFixture(t)
	fx.usecase.result = &domain.RetrievalResult{Passages: []domain.RerankedResult{}}

	rec := doJSON(fx.echo, http.MethodPost, "/v1/retrieve", `{"question":"nothing wanted","k":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, fx.usecase.last().K)
}

func TestRetrieve_FiltersMapped(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(fx.echo, http.MethodPost, "/v1/retrieve",
		`{"question":"q","filters":{"document_ids":["d-1","d-2"],"path_prefix":"ch2/","metadata":{"lang":"en"}}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got := fx.usecase.last()
	assert.Equal(t, []string{"d-1", "d-2"}, got.Filters.DocumentIDs)
	assert.Equal(t, "ch2/", got.Filters.PathPrefix)
	assert.Equal(t, map[string]string{"lang": "en"}, got.Filters.Metadata)
}

func TestRetrieve_UnknownModeRejected(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(fx.echo, http.MethodPost, "/v1/retrieve", `{"question":"q","mode":"warp"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown mode")
	assert.Equal(t, 0, fx.usecase.calls)
}

func TestRetrieve_MalformedBody(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(fx.echo, http.MethodPost, "/v1/retrieve", `{"question": nope}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetrieve_ErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid request", fmt.Errorf("%w: bad k", domain.ErrInvalidRequest), http.StatusBadRequest},
		{"total failure", fmt.Errorf("%w: everything down", domain.ErrTotalRetrievalFailure), http.StatusServiceUnavailable},
		{"rate limited", fmt.Errorf("%w: busy", domain.ErrRateLimited), http.StatusTooManyRequests},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.usecase.err = tc.err

			rec := doJSON(fx.echo, http.MethodPost, "/v1/retrieve", `{"question":"q"}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestRetrieveBatch_MixedResults(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(fx.echo, http.MethodPost, "/v1/retrieve/batch",
		`{"requests":[
			{"question":"first","mode":"fast","k":2},
			{"question":"second","mode":"warp"},
			{"question":"third","k":1}
		]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Results []struct {
			Status int             `json:"status"`
			Result json.RawMessage `json:"result"`
			Error  string          `json:"error"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)

	assert.Equal(t, http.StatusOK, resp.Results[0].Status)
	assert.NotEmpty(t, resp.Results[0].Result)
	assert.Empty(t, resp.Results[0].Error)

	assert.Equal(t, http.StatusBadRequest, resp.Results[1].Status)
	assert.Contains(t, resp.Results[1].Error, "unknown mode")
	assert.Empty(t, resp.Results[1].Result)

	assert.Equal(t, http.StatusOK, resp.Results[2].Status)
}

func TestRetrieveBatch_EmptyRejected(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(fx.echo, http.MethodPost, "/v1/retrieve/batch", `{"requests":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetrieveBatch_SizeCapEnforced(t *testing.T) {
	fx := newFixture(t) // maxBatch is 4 in the fixture

	items := `{"question":"q"},{"question":"q"},{"question":"q"},{"question":"q"},{"question":"q"}`
	rec := doJSON(fx.echo, http.MethodPost, "/v1/retrieve/batch", `{"requests":[`+items+`]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "exceeds maximum")
}

func TestModes_ReturnsResolvedTable(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(fx.echo, http.MethodGet, "/v1/modes", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Modes map[string]struct {
			Strategies  []string `json:"strategies"`
			MaxVariants int      `json:"max_variants"`
			UseFusion   bool     `json:"use_fusion"`
			UseRerank   bool     `json:"use_rerank"`
		} `json:"modes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Modes, 6)

	fast, ok := resp.Modes["fast"]
	require.True(t, ok)
	assert.Equal(t, 1, fast.MaxVariants)
	assert.False(t, fast.UseRerank)

	quality, ok := resp.Modes["quality"]
	require.True(t, ok)
	assert.Len(t, quality.Strategies, 4)
	assert.True(t, quality.UseFusion)

	_, ok = resp.Modes["adaptive:complex"]
	assert.True(t, ok)
}

func TestHealthz(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(fx.echo, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestReadyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		fx := newFixture(t)
		rec := doJSON(fx.echo, http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("index unreachable", func(t *testing.T) {
		fx := newFixture(t)
		fx.index.pingErr = errors.New("connection refused")
		rec := doJSON(fx.echo, http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestMetricsEndpointMounted(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(fx.echo, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestKeyAuth(t *testing.T) {
	uc := &stubRetrieveUsecase{result: sampleResult()}
	pool := worker.NewPool(1, 4, time.Second, testLogger())
	pool.Start()
	t.Cleanup(pool.Stop)

	h := httpapi.NewHandler(uc, pool, &stubIndex{}, usecase.DefaultPlans(), 4, testLogger())
	e := echo.New()
	h.RegisterRoutes(e, "sekrit")

	t.Run("missing key rejected", func(t *testing.T) {
		rec := doJSON(e, http.MethodPost, "/v1/retrieve", `{"question":"q"}`)
		assert.NotEqual(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", bytes.NewBufferString(`{"question":"q"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set("X-API-Key", "wrong")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("correct key accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", bytes.NewBufferString(`{"question":"q"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set("X-API-Key", "sekrit")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("probes stay open", func(t *testing.T) {
		rec := doJSON(e, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
