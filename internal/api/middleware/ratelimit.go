package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	// RequestLimit is the maximum number of requests allowed per WindowSize,
	// per key (by default, per client IP).
	RequestLimit int
	// WindowSize is the sliding window duration.
	WindowSize time.Duration
}

func (cfg RateLimitConfig) withDefaults() RateLimitConfig {
	if cfg.RequestLimit <= 0 {
		cfg.RequestLimit = 30
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = time.Minute
	}
	return cfg
}

// RateLimit is a per-IP sliding-window limiter built on httprate. It is
// meant for /resolve/*: a captcha-solving resolution chain is exactly the
// kind of endpoint worth shielding from retry storms, since each request can
// trigger a CfSolver round trip or a multi-hop form dance.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	cfg = cfg.withDefaults()
	limiter := httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(cfg.WindowSize.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded","message":"too many resolve requests, slow down"}`))
		}),
	)
	return limiter
}
