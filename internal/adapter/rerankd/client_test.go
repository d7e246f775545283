package rerankd

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrieval-orchestrator/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// runtimeStub records the wire traffic of a fake scoring runtime.
type runtimeStub struct {
	devices       []string
	deviceCalls   atomic.Int32
	loadedDevice  atomic.Value
	unloadCalls   atomic.Int32
	rerankHandler http.HandlerFunc
}

func (s *runtimeStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/devices":
			s.deviceCalls.Add(1)
			assert.Equal(t, http.MethodGet, r.Method)
			_ = json.NewEncoder(w).Encode(map[string][]string{"devices": s.devices})
		case "/v1/models/load":
			var req loadRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.NotEqual(t, DeviceAuto, req.Device)
			s.loadedDevice.Store(req.Device)
			w.WriteHeader(http.StatusOK)
		case "/v1/models/unload":
			s.unloadCalls.Add(1)
			w.WriteHeader(http.StatusOK)
		case "/v1/rerank":
			if s.rerankHandler != nil {
				s.rerankHandler(w, r)
				return
			}
			http.Error(w, "no rerank handler", http.StatusInternalServerError)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestNewClient_ResolvesAutoDevice(t *testing.T) {
	stub := &runtimeStub{devices: []string{"cuda:0", "cpu"}}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	client, err := NewClient(context.Background(), server.URL, "ms-marco-MiniLM-L-6-v2",
		DeviceAuto, 5*time.Second, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "cuda:0", client.Device)
	assert.Equal(t, int32(1), stub.deviceCalls.Load())
	assert.Equal(t, "cuda:0", stub.loadedDevice.Load())
}

func TestNewClient_AutoFallsBackToCPU(t *testing.T) {
	stub := &runtimeStub{devices: []string{"cpu"}}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	client, err := NewClient(context.Background(), server.URL, "ms-marco-MiniLM-L-6-v2",
		DeviceAuto, 5*time.Second, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "cpu", client.Device)
	assert.Equal(t, "cpu", stub.loadedDevice.Load())
}

func TestNewClient_ExplicitDeviceSkipsProbe(t *testing.T) {
	stub := &runtimeStub{devices: []string{"cuda:0"}}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	client, err := NewClient(context.Background(), server.URL, "ms-marco-MiniLM-L-6-v2",
		"cpu", 5*time.Second, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "cpu", client.Device)
	assert.Equal(t, int32(0), stub.deviceCalls.Load())
}

func TestNewClient_LoadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models/load" {
			http.Error(w, "out of memory", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string][]string{"devices": {"cpu"}})
	}))
	defer server.Close()

	client, err := NewClient(context.Background(), server.URL, "ms-marco-MiniLM-L-6-v2",
		DeviceAuto, 5*time.Second, testLogger())
	assert.Nil(t, client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestClient_Rerank_MapsIndicesToIDs(t *testing.T) {
	stub := &runtimeStub{devices: []string{"cpu"}}
	stub.rerankHandler = func(w http.ResponseWriter, r *http.Request) {
		var req RerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test query", req.Query)
		assert.Len(t, req.Candidates, 3)
		assert.Equal(t, "ms-marco-MiniLM-L-6-v2", req.Model)

		_ = json.NewEncoder(w).Encode(RerankResponse{
			Results: []RerankResponseResult{
				{Index: 1, Score: 0.95},
				{Index: 0, Score: 0.85},
				{Index: 2, Score: 0.75},
			},
			Model: "ms-marco-MiniLM-L-6-v2",
		})
	}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	client, err := NewClient(context.Background(), server.URL, "ms-marco-MiniLM-L-6-v2",
		"cpu", 5*time.Second, testLogger())
	require.NoError(t, err)

	candidates := []domain.RerankCandidate{
		{ID: "p-1", Content: "passage about contracts", Score: 0.8},
		{ID: "p-2", Content: "passage about liability", Score: 0.7},
		{ID: "p-3", Content: "passage about notices", Score: 0.6},
	}

	results, err := client.Rerank(context.Background(), "test query", candidates)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, "p-2", results[0].ID)
	assert.Equal(t, float32(0.95), results[0].Score)
	assert.Equal(t, "p-1", results[1].ID)
	assert.Equal(t, "p-3", results[2].ID)
}

func TestClient_Rerank_EmptyCandidates(t *testing.T) {
	stub := &runtimeStub{devices: []string{"cpu"}}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	client, err := NewClient(context.Background(), server.URL, "ms-marco-MiniLM-L-6-v2",
		"cpu", 5*time.Second, testLogger())
	require.NoError(t, err)

	results, err := client.Rerank(context.Background(), "test query", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestClient_Rerank_InvalidIndex(t *testing.T) {
	stub := &runtimeStub{devices: []string{"cpu"}}
	stub.rerankHandler = func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(RerankResponse{
			Results: []RerankResponseResult{{Index: 99, Score: 0.95}},
		})
	}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	client, err := NewClient(context.Background(), server.URL, "ms-marco-MiniLM-L-6-v2",
		"cpu", 5*time.Second, testLogger())
	require.NoError(t, err)

	results, err := client.Rerank(context.Background(), "test query", []domain.RerankCandidate{
		{ID: "p-1", Content: "passage"},
	})
	assert.Nil(t, results)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid result index")
}

func TestClient_Close_UnloadsModel(t *testing.T) {
	stub := &runtimeStub{devices: []string{"cpu"}}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	client, err := NewClient(context.Background(), server.URL, "ms-marco-MiniLM-L-6-v2",
		"cpu", 5*time.Second, testLogger())
	require.NoError(t, err)

	require.NoError(t, client.Close())
	assert.Equal(t, int32(1), stub.unloadCalls.Load())
}

func TestClient_ModelName(t *testing.T) {
	stub := &runtimeStub{devices: []string{"cpu"}}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	client, err := NewClient(context.Background(), server.URL, "ms-marco-MiniLM-L-6-v2",
		"cpu", 5*time.Second, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "ms-marco-MiniLM-L-6-v2", client.ModelName())
}
