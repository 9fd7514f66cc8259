package upstreamclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cainiao1230/LoadBalance/internal/registry"
)

func newTestRegistry(baseURL string) *registry.Registry {
	return registry.New([]registry.Descriptor{
		{Index: 0, BaseURL: baseURL, Username: "u", Password: "p"},
	})
}

func TestEnsureToken_LoginSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"token": "tok-abc"},
		})
	}))
	defer srv.Close()

	reg := newTestRegistry(srv.URL)
	c := New(reg)

	err := c.EnsureToken(context.Background(), 0)
	require.NoError(t, err)
	tok, fresh := reg.Token(0, TokenRefreshInterval)
	assert.True(t, fresh)
	assert.Equal(t, "tok-abc", tok)
}

func TestEnsureToken_RedirectIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://elsewhere.example/login", http.StatusFound)
	}))
	defer srv.Close()

	reg := newTestRegistry(srv.URL)
	c := New(reg)

	err := c.EnsureToken(context.Background(), 0)
	require.Error(t, err)
}

func TestCallDecrypt_RetriesOnExpiredTokenMessage(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/login":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]string{"token": "tok"},
			})
		case "/api/yd/decryptl":
			attempts++
			if attempts == 1 {
				_ = json.NewEncoder(w).Encode(map[string]any{"msg": "token invalid"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"msg": "keygen_succ", "sn": "SN-1"})
		}
	}))
	defer srv.Close()

	reg := newTestRegistry(srv.URL)
	c := New(reg)

	result, err := c.CallDecrypt(context.Background(), 0, "aabb")
	require.NoError(t, err)
	assert.Equal(t, "keygen_succ", result.Msg)
	assert.Equal(t, "SN-1", result.SN)
	assert.Equal(t, 2, attempts)
}

func TestCallDecrypt_401RetriesOnce(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/login":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]string{"token": "tok"},
			})
		case "/api/yd/decryptl":
			attempts++
			if attempts == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"msg": "key_exist", "sn": "SN-2"})
		}
	}))
	defer srv.Close()

	reg := newTestRegistry(srv.URL)
	c := New(reg)

	result, err := c.CallDecrypt(context.Background(), 0, "aabb")
	require.NoError(t, err)
	assert.Equal(t, "key_exist", result.Msg)
	assert.Equal(t, 2, attempts)
}
