// Package upstreamclient talks to the configured decryption upstreams: it
// manages each upstream's token lifecycle and performs the decrypt call with
// a single invalidate-and-retry on auth failure.
package upstreamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cainiao1230/LoadBalance/internal/apierr"
	"github.com/cainiao1230/LoadBalance/internal/registry"
)

// TokenRefreshInterval is how long a cached token is trusted before a fresh
// login is attempted.
const TokenRefreshInterval = 23 * time.Hour

// CallTimeout bounds a single HTTP attempt against an upstream.
const CallTimeout = 30 * time.Second

// loginResponse is the shape returned by an upstream's /api/login.
type loginResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Token string `json:"token"`
	} `json:"data"`
}

// Client issues authenticated calls to the upstream fleet held by a Registry.
type Client struct {
	reg        *registry.Registry
	httpClient *http.Client
}

// New builds an upstream client bound to a Registry. The registry owns
// mutable per-upstream state (token, busy); the client only reads/writes it
// on behalf of whichever worker is calling.
func New(reg *registry.Registry) *Client {
	return &Client{
		reg: reg,
		httpClient: &http.Client{
			Timeout: CallTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// EnsureToken refreshes the upstream's cached token if absent or older than
// TokenRefreshInterval. A redirect response from the login endpoint is a
// permanent misconfiguration (the upstream must be reachable over HTTPS
// directly, not via a redirecting front door) and is never retried.
func (c *Client) EnsureToken(ctx context.Context, idx int) error {
	d, ok := c.reg.Get(idx)
	if !ok {
		return apierr.Internalf("unknown upstream index")
	}
	if _, fresh := c.reg.Token(idx, TokenRefreshInterval); fresh {
		return nil
	}

	loginURL := fmt.Sprintf("%s/api/login?username=%s&password=%s",
		strings.TrimRight(d.BaseURL, "/"), url.QueryEscape(d.Username), url.QueryEscape(d.Password))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return apierr.UpstreamFailf("build login request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apierr.UpstreamFailf("upstream login transport error")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return apierr.Internalf(fmt.Sprintf("upstream %d login redirected (status %d): must be configured over HTTPS directly", idx, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apierr.UpstreamFailf("read login response")
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil || !lr.Success || lr.Data.Token == "" {
		return apierr.AuthFailf("upstream login failed")
	}

	c.reg.SetToken(idx, lr.Data.Token)
	return nil
}

// DecryptResult is the parsed body of a call_decrypt attempt.
type DecryptResult struct {
	Msg string                 `json:"msg"`
	SN  string                 `json:"sn,omitempty"`
	Raw map[string]interface{} `json:"-"`
}

func isTokenInvalidMsg(msg string) bool {
	lower := strings.ToLower(msg)
	if !strings.Contains(lower, "token") {
		return false
	}
	return strings.Contains(lower, "invalid") || strings.Contains(lower, "expired") || strings.Contains(msg, "失效")
}

// CallDecrypt invokes the upstream's decrypt endpoint with up to two
// attempts total: if the first attempt reports an invalid/expired token
// (HTTP 401, or a 200 body whose msg says so), the token is invalidated and
// a single retry is made with a freshly issued one.
func (c *Client) CallDecrypt(ctx context.Context, idx int, hexData string) (DecryptResult, error) {
	const maxAttempts = 2

	d, ok := c.reg.Get(idx)
	if !ok {
		return DecryptResult{}, apierr.Internalf("unknown upstream index")
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.EnsureToken(ctx, idx); err != nil {
			return DecryptResult{}, err
		}
		token, _ := c.reg.Token(idx, 0)

		callURL := fmt.Sprintf("%s/api/yd/decryptl?hex=%s&token=%s",
			strings.TrimRight(d.BaseURL, "/"), url.QueryEscape(hexData), url.QueryEscape(token))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, callURL, nil)
		if err != nil {
			return DecryptResult{}, apierr.UpstreamFailf("build decrypt request")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = apierr.UpstreamFailf("upstream decrypt transport error")
			break
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = apierr.UpstreamFailf("read decrypt response")
			break
		}

		if resp.StatusCode == http.StatusUnauthorized {
			c.reg.InvalidateToken(idx)
			lastErr = apierr.AuthFailf("upstream token rejected")
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal(body, &raw); err != nil {
			return DecryptResult{}, apierr.UpstreamFailf("malformed upstream response")
		}

		msg, _ := raw["msg"].(string)
		if resp.StatusCode == http.StatusOK && isTokenInvalidMsg(msg) {
			c.reg.InvalidateToken(idx)
			lastErr = apierr.AuthFailf("upstream token expired")
			continue
		}

		sn, _ := raw["sn"].(string)
		return DecryptResult{Msg: msg, SN: sn, Raw: raw}, nil
	}

	if lastErr == nil {
		lastErr = apierr.UpstreamFailf("upstream call failed after retry")
	}
	return DecryptResult{}, lastErr
}
