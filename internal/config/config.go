// Package config loads streamgw's environment-driven configuration, in the
// teacher's envconfig style, and optionally hot-reloads the enabled-provider
// list from a flat file without requiring a process restart.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full process configuration, loaded once at startup.
type Config struct {
	Server     ServerConfig
	Supervisor SupervisorConfig
	Resolve    ResolveConfig
	CfSolver   CfSolverConfig
	Meta       MetaConfig
	Store      StoreConfig
	RateLimit  RateLimitConfig
	Providers  ProvidersConfig
	Tracing    TracingConfig
}

// ServerConfig configures each worker's own HTTP listener.
type ServerConfig struct {
	Port              int           `envconfig:"STREAMGW_PORT" default:"8080"`
	ReadHeaderTimeout time.Duration `envconfig:"STREAMGW_READ_HEADER_TIMEOUT" default:"70s"`
	IdleTimeout       time.Duration `envconfig:"STREAMGW_IDLE_TIMEOUT" default:"65s"`
	ShutdownTimeout   time.Duration `envconfig:"STREAMGW_SHUTDOWN_TIMEOUT" default:"10s"`
	BaseURL           string        `envconfig:"STREAMGW_BASE_URL" default:"http://localhost:8080"`
}

// SupervisorConfig configures the multi-process worker pool (C8). Workers
// defaults to 0, meaning "derive N from min(cpu*IOMultiplier,
// MemoryBudgetMB/PerWorkerMB, ConfigMax), floored at cpu" (spec.md §5)
// rather than pin a fixed count.
type SupervisorConfig struct {
	Workers        int           `envconfig:"STREAMGW_WORKERS" default:"0"`
	StaggerDelay   time.Duration `envconfig:"STREAMGW_STAGGER_DELAY" default:"50ms"`
	IOMultiplier   int           `envconfig:"STREAMGW_IO_MULTIPLIER" default:"4"`
	MemoryBudgetMB int           `envconfig:"STREAMGW_MEMORY_BUDGET_MB" default:"2048"`
	PerWorkerMB    int           `envconfig:"STREAMGW_PER_WORKER_MB" default:"128"`
	ConfigMax      int           `envconfig:"STREAMGW_WORKERS_MAX" default:"32"`
}

// ResolveConfig configures the link-chain resolver (C6) and aggregation
// scheduler (C7).
type ResolveConfig struct {
	Deadline         time.Duration `envconfig:"STREAMGW_RESOLVE_DEADLINE" default:"10s"`
	MetadataFraction float64       `envconfig:"STREAMGW_METADATA_FRACTION" default:"0.25"`
	ProviderCeiling  time.Duration `envconfig:"STREAMGW_PROVIDER_CEILING" default:"6s"`
	PreviewTTL       time.Duration `envconfig:"STREAMGW_PREVIEW_TTL" default:"15m"`
	ResolveTTL       time.Duration `envconfig:"STREAMGW_RESOLVE_TTL" default:"10m"`
	// TrustedHosts is a CSV list of hostname suffixes (e.g. "pixeldrain.com")
	// that the seek probe treats as seekable without a 206 range response;
	// the non-video classifier still applies to them.
	TrustedHosts []string `envconfig:"STREAMGW_TRUSTED_HOSTS" default:"pixeldrain.com,gofile.io"`
}

// CfSolverConfig configures the CfSolver client (C4).
type CfSolverConfig struct {
	URL        string        `envconfig:"STREAMGW_CFSOLVER_URL" default:""`
	MaxTimeout time.Duration `envconfig:"STREAMGW_CFSOLVER_TIMEOUT" default:"60s"`
}

// MetaConfig configures the external metadata catalog client.
type MetaConfig struct {
	BaseURL string        `envconfig:"STREAMGW_META_BASE_URL" default:""`
	Timeout time.Duration `envconfig:"STREAMGW_META_TIMEOUT" default:"8s"`
	Retries int           `envconfig:"STREAMGW_META_RETRIES" default:"1"`
	TTL     time.Duration `envconfig:"STREAMGW_META_TTL" default:"6h"`
}

// StoreConfig configures the cache fabric's L2 persistent tier (C3).
type StoreConfig struct {
	Backend    string `envconfig:"STREAMGW_STORE_BACKEND" default:"badger"` // "redis" or "badger"
	RedisURL   string `envconfig:"STREAMGW_REDIS_URL" default:"redis://localhost:6379/0"`
	BadgerPath string `envconfig:"STREAMGW_BADGER_PATH" default:"/var/lib/streamgw/badger"`
}

// RateLimitConfig configures the /resolve/* rate limiter.
type RateLimitConfig struct {
	RequestLimit int           `envconfig:"STREAMGW_RATE_LIMIT_REQUESTS" default:"30"`
	WindowSize   time.Duration `envconfig:"STREAMGW_RATE_LIMIT_WINDOW" default:"1m"`
}

// ProvidersConfig configures the enabled-provider extractor set. EnabledFile,
// if set, is watched for changes and hot-reloaded (see reload.go) so a
// provider can be disabled without a worker restart; Enabled is the
// startup value before any reload.
type ProvidersConfig struct {
	Enabled     []string `envconfig:"STREAMGW_PROVIDERS" default:"pixeldrain,gofile"`
	EnabledFile string   `envconfig:"STREAMGW_PROVIDERS_FILE" default:""`
}

// TracingConfig configures the OTLP trace exporter. Tracing is only wired
// up when OTLPEndpoint is non-empty; otherwise every tracer stays a no-op.
type TracingConfig struct {
	OTLPEndpoint string `envconfig:"STREAMGW_OTLP_ENDPOINT" default:""`
	ServiceName  string `envconfig:"STREAMGW_SERVICE_NAME" default:"streamgw"`
}

// Load reads configuration from the environment, applying the defaults
// declared in each field's envconfig tag.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	return &cfg, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
