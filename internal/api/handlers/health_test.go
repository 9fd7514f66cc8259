package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cainiao1230/LoadBalance/internal/affinity"
	"github.com/cainiao1230/LoadBalance/internal/api/handlers"
	"github.com/cainiao1230/LoadBalance/internal/api/models"
	"github.com/cainiao1230/LoadBalance/internal/dispatcher"
	"github.com/cainiao1230/LoadBalance/internal/processing"
	"github.com/cainiao1230/LoadBalance/internal/registry"
)

func newTestGateway() *dispatcher.Gateway {
	reg := registry.New([]registry.Descriptor{
		{Index: 0, BaseURL: "https://upstream-a", Username: "svc"},
		{Index: 1, BaseURL: "https://upstream-b", Username: "svc"},
	})
	return dispatcher.New(dispatcher.Deps{
		Registry:   reg,
		Affinity:   affinity.New(0),
		Processing: processing.New(0, 0),
	}, dispatcher.Timing{})
}

func TestRoot(t *testing.T) {
	h := handlers.New(newTestGateway(), nil)
	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.StatusResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "loadbalance-gateway", resp.Service)
}

func TestStats(t *testing.T) {
	h := handlers.New(newTestGateway(), nil)
	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/server/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.ServerStatsResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Uptime)
	assert.Greater(t, resp.CPU.NumCPU, 0)
	require.Len(t, resp.Upstreams, 2)
	assert.Equal(t, "idle", resp.Upstreams[0].Status)
	assert.Equal(t, "none", resp.Upstreams[0].TokenStatus)
	assert.Equal(t, 4096, resp.AffinityMap.Capacity)
	assert.Equal(t, 1024, resp.ProcessingSet.Capacity)
}

func TestStats_NilGateway(t *testing.T) {
	h := handlers.New(nil, nil)
	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/server/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.ServerStatsResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Empty(t, resp.Upstreams)
}
