package cfsolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hszk-dev/streamgw/internal/cachefab"
	"github.com/hszk-dev/streamgw/internal/fetch"
)

// ClientConfig configures Client construction.
type ClientConfig struct {
	SolverURL  string
	MaxTimeout time.Duration
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig(solverURL string) ClientConfig {
	return ClientConfig{
		SolverURL:  solverURL,
		MaxTimeout: 60 * time.Second,
	}
}

// Client wraps the external CfSolver HTTP contract, with session and cookie
// caching delegated to a cachefab.Store rather than a module-level map.
type Client struct {
	cfg     ClientConfig
	fetcher *fetch.Fetcher
	store   *cachefab.Store
}

// NewClient constructs a Client. fetcher is reused so the outbound call to
// the solver itself inherits the same size cap, cancellation, and retry
// semantics as every other outbound request.
func NewClient(cfg ClientConfig, fetcher *fetch.Fetcher, store *cachefab.Store) *Client {
	return &Client{cfg: cfg, fetcher: fetcher, store: store}
}

func sessionKey(domain string) string { return "session:" + domain }
func cookieKey(domain string) string  { return "cf_cookie:" + domain }

// Session returns a cached or freshly-created solver session id for domain.
// Session creation is a compare-and-swap insert: concurrent callers for the
// same domain coalesce onto a single sessions.create call via the store's
// single-flight producer.
func (c *Client) Session(ctx context.Context, domain string) (string, error) {
	raw, err := c.store.GetOrCompute(ctx, sessionKey(domain), SessionTTL, func(ctx context.Context) ([]byte, error) {
		result, err := c.call(ctx, SolveRequest{
			Cmd:        CmdSessionsCreate,
			MaxTimeout: int(c.cfg.MaxTimeout / time.Millisecond),
		})
		if err != nil {
			return nil, err
		}
		if result.Session == "" {
			return nil, fmt.Errorf("cfsolver: sessions.create for %q returned no session id", domain)
		}
		return []byte(result.Session), nil
	})
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", fmt.Errorf("cfsolver: no session available for %q", domain)
	}
	return string(raw), nil
}

// InvalidateSession drops the cached session for domain, forcing a fresh
// sessions.create on next use. Callers invoke this after a failed solve.
func (c *Client) InvalidateSession(ctx context.Context, domain string) error {
	return c.store.Delete(ctx, sessionKey(domain))
}

// Solve performs a request.get (method == http.MethodGet) or request.post
// through the solver's session for domain and targetURL. On success, any
// cf_clearance cookie in the solution is cached under cf_cookie:{domain}
// so subsequent direct (non-solver) requests can reuse it without invoking
// the solver again. On failure the session is invalidated so the next call
// recreates it.
func (c *Client) Solve(ctx context.Context, domain, targetURL, method, postData string) (SolveResult, error) {
	session, err := c.Session(ctx, domain)
	if err != nil {
		return SolveResult{}, err
	}

	cmd := CmdRequestGet
	if method == http.MethodPost {
		cmd = CmdRequestPost
	}

	result, err := c.call(ctx, SolveRequest{
		Cmd:        cmd,
		URL:        targetURL,
		Session:    session,
		PostData:   postData,
		MaxTimeout: int(c.cfg.MaxTimeout / time.Millisecond),
	})
	if err != nil {
		_ = c.InvalidateSession(ctx, domain)
		return SolveResult{}, err
	}
	if result.Status != "ok" {
		_ = c.InvalidateSession(ctx, domain)
		return result, fmt.Errorf("cfsolver: solve for %q returned status %q", domain, result.Status)
	}

	if cc, ok := extractClearance(result.Solution); ok {
		cc.Timestamp = time.Now()
		raw, err := json.Marshal(cc)
		if err == nil {
			_ = c.store.Set(ctx, cookieKey(domain), raw, CookieTTL)
		}
	}

	return result, nil
}

// CachedCookieFor returns a previously solved cf_clearance cookie for
// domain, if one is still within its TTL.
func (c *Client) CachedCookieFor(ctx context.Context, domain string) (CachedCookie, bool, error) {
	value, found, negative, err := c.store.Get(ctx, cookieKey(domain))
	if err != nil || !found || negative {
		return CachedCookie{}, false, err
	}
	var cc CachedCookie
	if err := json.Unmarshal(value, &cc); err != nil {
		return CachedCookie{}, false, fmt.Errorf("cfsolver: decode cached cookie for %q: %w", domain, err)
	}
	return cc, true, nil
}

// InvalidateCookie drops a cached clearance cookie, e.g. after observing a
// fresh challenge on a request that was expected to bypass it.
func (c *Client) InvalidateCookie(ctx context.Context, domain string) error {
	return c.store.Delete(ctx, cookieKey(domain))
}

func extractClearance(sol Solution) (CachedCookie, bool) {
	for _, ck := range sol.Cookies {
		if ck.Name == "cf_clearance" {
			return CachedCookie{CfClearance: ck.Value, UserAgent: sol.UserAgent}, true
		}
	}
	return CachedCookie{}, false
}

func (c *Client) call(ctx context.Context, req SolveRequest) (SolveResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return SolveResult{}, fmt.Errorf("cfsolver: encode request: %w", err)
	}

	resp, err := c.fetcher.Fetch(ctx, c.cfg.SolverURL, fetch.Options{
		Method:  http.MethodPost,
		Headers: http.Header{"Content-Type": []string{"application/json"}},
		Body:    body,
		Timeout: c.cfg.MaxTimeout,
	})
	if err != nil {
		return SolveResult{}, fmt.Errorf("cfsolver: call solver: %w", err)
	}
	if resp.Status != http.StatusOK {
		return SolveResult{}, fmt.Errorf("cfsolver: solver returned HTTP %d", resp.Status)
	}

	var result SolveResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return SolveResult{}, fmt.Errorf("cfsolver: decode solver response: %w", err)
	}
	return result, nil
}
