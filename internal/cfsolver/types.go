// Package cfsolver implements C4: a session-pooled client over an external
// Cloudflare challenge-solving service, with session and cookie caching
// through the cache fabric instead of module-level maps.
package cfsolver

import "time"

// Command selects the operation requested of the solver.
type Command string

const (
	CmdSessionsCreate Command = "sessions.create"
	CmdRequestGet     Command = "request.get"
	CmdRequestPost    Command = "request.post"
)

// SolveRequest is the wire shape of the external CfSolver's POST /v1 body.
type SolveRequest struct {
	Cmd        Command           `json:"cmd"`
	URL        string            `json:"url,omitempty"`
	Session    string            `json:"session,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	PostData   string            `json:"postData,omitempty"`
	MaxTimeout int               `json:"maxTimeout,omitempty"`
}

// Solution is the nested payload of a successful SolveResult.
type Solution struct {
	Response  string            `json:"response"`
	Cookies   []Cookie          `json:"cookies"`
	UserAgent string            `json:"userAgent"`
	Status    int               `json:"status"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
}

// Cookie mirrors the fields CfSolver reports per cookie.
type Cookie struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Domain    string `json:"domain"`
	Path      string `json:"path"`
	ExpiresAt int64  `json:"expires,omitempty"`
}

// SolveResult is the top-level CfSolver response envelope.
type SolveResult struct {
	Status   string   `json:"status"`
	Session  string   `json:"session,omitempty"`
	Solution Solution `json:"solution"`
}

// CachedCookie is the persisted value under cf_cookie:{domain}.
type CachedCookie struct {
	CfClearance string    `json:"cfClearance"`
	UserAgent   string    `json:"userAgent"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	// SessionTTL is how long a solver session id is cached before it must
	// be recreated (spec: "TTL 10 min").
	SessionTTL = 10 * time.Minute
	// CookieTTL is how long a solved cf_clearance cookie is reused before
	// a fresh challenge solve is required (spec: "TTL 25 min").
	CookieTTL = 25 * time.Minute
)
