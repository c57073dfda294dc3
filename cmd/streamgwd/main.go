// Command streamgwd is the streamgw gateway daemon. It runs in one of two
// roles, selected by the STREAMGW_ROLE environment variable:
//
//   - supervisor (default): forks N worker processes sharing one listening
//     port via SO_REUSEPORT, restarting crashed workers with backoff.
//   - worker: runs the actual HTTP gateway (discovery + resolver API).
//
// The supervisor never opens a listener itself; it only re-execs itself
// with STREAMGW_ROLE=worker and forwards signals.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sys/unix"

	"github.com/hszk-dev/streamgw/internal/aggregator"
	"github.com/hszk-dev/streamgw/internal/api/handler"
	"github.com/hszk-dev/streamgw/internal/api/middleware"
	"github.com/hszk-dev/streamgw/internal/cachefab"
	"github.com/hszk-dev/streamgw/internal/cachefab/badgerstore"
	"github.com/hszk-dev/streamgw/internal/cachefab/redisstore"
	"github.com/hszk-dev/streamgw/internal/cfsolver"
	"github.com/hszk-dev/streamgw/internal/config"
	"github.com/hszk-dev/streamgw/internal/domain/repository"
	"github.com/hszk-dev/streamgw/internal/extractor"
	"github.com/hszk-dev/streamgw/internal/extractor/gofile"
	"github.com/hszk-dev/streamgw/internal/extractor/pixeldrain"
	"github.com/hszk-dev/streamgw/internal/fetch"
	"github.com/hszk-dev/streamgw/internal/metaclient"
	"github.com/hszk-dev/streamgw/internal/resolver"
	"github.com/hszk-dev/streamgw/internal/seekprobe"
	"github.com/hszk-dev/streamgw/internal/supervisor"
	"github.com/hszk-dev/streamgw/internal/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if os.Getenv("STREAMGW_ROLE") == supervisor.RoleWorker {
		return runWorker(cfg, logger)
	}
	return runSupervisor(cfg, logger)
}

// runSupervisor derives the worker pool size per spec.md's
// min(cpu*ioMultiplier, memoryBudget/perWorker, configMax) formula, floored
// at one worker per CPU, unless STREAMGW_WORKERS pins an explicit count.
func runSupervisor(cfg *config.Config, logger *slog.Logger) error {
	workers := cfg.Supervisor.Workers
	if workers <= 0 {
		workers = supervisor.DeriveWorkerCount(
			runtime.NumCPU(),
			cfg.Supervisor.IOMultiplier,
			cfg.Supervisor.MemoryBudgetMB,
			cfg.Supervisor.PerWorkerMB,
			cfg.Supervisor.ConfigMax,
		)
	}
	logger.Info("starting supervisor", "workers", workers, "stagger_delay", cfg.Supervisor.StaggerDelay)

	sup := supervisor.New(supervisor.Config{
		Workers:      workers,
		StaggerDelay: cfg.Supervisor.StaggerDelay,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return sup.Run(ctx)
}

// runWorker builds the full dependency graph for one gateway worker and
// serves the public HTTP API on a SO_REUSEPORT listener shared with its
// siblings.
func runWorker(cfg *config.Config, logger *slog.Logger) error {
	startedAt := time.Now()
	workerID := os.Getenv("STREAMGW_WORKER_ID")
	logger = logger.With("worker_id", workerID)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		ServiceName:  cfg.Tracing.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	fetcher, err := fetch.New()
	if err != nil {
		return fmt.Errorf("failed to build fetcher: %w", err)
	}

	store, err := buildCacheStore(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to build cache fabric: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("cache fabric close failed", "error", err)
		}
	}()
	logger.Info("cache fabric ready", "l2_backend", cfg.Store.Backend)

	reloader := config.NewProviderReloader(cfg.Providers.EnabledFile, cfg.Providers.Enabled, logger)
	if err := reloader.Start(ctx); err != nil {
		return fmt.Errorf("failed to start provider reloader: %w", err)
	}

	registry, err := extractor.New(
		pixeldrain.New(fetcher),
		gofile.New(fetcher),
	)
	if err != nil {
		return fmt.Errorf("failed to build extractor registry: %w", err)
	}

	metaClient := metaclient.NewClient(metaclient.ClientConfig{
		BaseURL: cfg.Meta.BaseURL,
		Timeout: cfg.Meta.Timeout,
		Retries: cfg.Meta.Retries,
		TTL:     cfg.Meta.TTL,
	}, fetcher, store)
	scheduler := aggregator.New(metaClient, registry, store)

	var solver *cfsolver.Client
	if cfg.CfSolver.URL != "" {
		solverCfg := cfsolver.DefaultClientConfig(cfg.CfSolver.URL)
		solverCfg.MaxTimeout = cfg.CfSolver.MaxTimeout
		solver = cfsolver.NewClient(solverCfg, fetcher, store)
	}

	prober := seekprobe.New(fetcher, cfg.Resolve.TrustedHosts)
	resolverSvc := resolver.New(fetcher, prober, registry, solver, store)

	router := buildRouter(routerConfig{
		scheduler: scheduler,
		resolver:  resolverSvc,
		fetcher:   fetcher,
		store:     store,
		reloader:  reloader,
		startedAt: startedAt,
		cfg:       cfg,
		logger:    logger,
	})

	listener, err := reuseportListen(cfg.Server.Port)
	if err != nil {
		return fmt.Errorf("failed to bind SO_REUSEPORT listener on port %d: %w", cfg.Server.Port, err)
	}

	srv := &http.Server{
		Handler:           router,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("worker listening", "port", cfg.Server.Port)
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down worker")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("worker stopped")
	return nil
}

func buildCacheStore(cfg config.StoreConfig, logger *slog.Logger) (*cachefab.Store, error) {
	var l2 repository.PersistentStore
	switch cfg.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		l2 = redisstore.New(redis.NewClient(opts))
	case "badger":
		store, err := badgerstore.Open(cfg.BadgerPath)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		l2 = store
	default:
		return nil, fmt.Errorf("unknown cache store backend %q (want redis or badger)", cfg.Backend)
	}

	return cachefab.New(cachefab.Config{L2: l2, L2Backend: cfg.Backend})
}

type routerConfig struct {
	scheduler *aggregator.Scheduler
	resolver  *resolver.Resolver
	fetcher   *fetch.Fetcher
	store     *cachefab.Store
	reloader  *config.ProviderReloader
	startedAt time.Time
	cfg       *config.Config
	logger    *slog.Logger
}

func buildRouter(rc routerConfig) *chi.Mux {
	streamsHandler := handler.NewStreamsHandler(handler.StreamsHandlerConfig{
		Scheduler:        rc.scheduler,
		Providers:        rc.reloader,
		BaseURL:          rc.cfg.Server.BaseURL,
		Deadline:         rc.cfg.Resolve.Deadline,
		MetadataFraction: rc.cfg.Resolve.MetadataFraction,
		ProviderCeiling:  rc.cfg.Resolve.ProviderCeiling,
		PreviewTTL:       rc.cfg.Resolve.PreviewTTL,
		Logger:           rc.logger,
	})
	resolveHandler := handler.NewResolveHandler(handler.ResolveHandlerConfig{
		Resolver: rc.resolver,
		Fetcher:  rc.fetcher,
		BaseURL:  rc.cfg.Server.BaseURL,
		Logger:   rc.logger,
	})
	healthHandler := handler.NewHealthHandler(rc.store, rc.startedAt)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(rc.logger))
	r.Use(middleware.Recoverer(rc.logger))

	r.Get("/healthz", healthHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/streams/{kind}/{id}", streamsHandler.Streams)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestLimit: rc.cfg.RateLimit.RequestLimit,
			WindowSize:   rc.cfg.RateLimit.WindowSize,
		}))
		r.Get("/resolve/*", resolveHandler.Resolve)
	})

	return r
}

// reuseportListen binds port with SO_REUSEPORT so every sibling worker can
// independently accept on the same port, with the kernel load-balancing
// incoming connections across them (spec.md §4.8's "round-robin connection
// dispatch" without a hand-rolled L4 proxy).
func reuseportListen(port int) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(context.Background(), "tcp", net.JoinHostPort("", strconv.Itoa(port)))
}
