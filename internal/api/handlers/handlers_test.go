// Package handlers_test provides behavior tests for the API handlers package.
package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cainiao1230/LoadBalance/internal/api/handlers"
	"github.com/cainiao1230/LoadBalance/internal/api/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func performRequest(r http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ============================================================================
// Login validation tests (no live MySQL/Redis required, rejected before the
// gateway's Authenticate path is reached)
// ============================================================================

func TestLogin_MissingUsername(t *testing.T) {
	h := handlers.New(newTestGateway(), nil)
	r := setupTestRouter(h)

	w := performRequest(r, "GET", "/api/login?password=secret", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp models.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
}

func TestLogin_MissingPassword(t *testing.T) {
	h := handlers.New(newTestGateway(), nil)
	r := setupTestRouter(h)

	w := performRequest(r, "GET", "/api/login?username=drone-op", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ============================================================================
// Decrypt validation tests
// ============================================================================

func TestDecrypt_MissingHex(t *testing.T) {
	h := handlers.New(newTestGateway(), nil)
	r := setupTestRouter(h)

	w := performRequest(r, "GET", "/api/yd/decryptl?username=a&password=b", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestDecrypt_MissingCredentialsAndToken(t *testing.T) {
	h := handlers.New(newTestGateway(), nil)
	r := setupTestRouter(h)

	w := performRequest(r, "GET", "/api/yd/decryptl?hex=aabbcc", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ============================================================================
// QueryPersonData validation tests
// ============================================================================

func TestQueryPersonData_RejectsUnknownParam(t *testing.T) {
	h := handlers.New(newTestGateway(), nil)
	r := setupTestRouter(h)

	w := performRequest(r, "GET", "/api/query/persondata?username=a&password=b&extra=1", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryPersonData_MissingCredentials(t *testing.T) {
	h := handlers.New(newTestGateway(), nil)
	r := setupTestRouter(h)

	w := performRequest(r, "GET", "/api/query/persondata?username=a", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ============================================================================
// Handler Initialization Tests
// ============================================================================

func TestHandler_New(t *testing.T) {
	h := handlers.New(nil, nil)

	assert.NotNil(t, h)
}
