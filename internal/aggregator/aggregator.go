// Package aggregator implements C7: the discovery-phase scheduler that
// fans a media key out across enabled providers, within a deadline, and
// returns cheap PreviewStream entries the player can later call back
// through the resolver (C6) to get a seekable direct URL.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hszk-dev/streamgw/internal/cachefab"
	"github.com/hszk-dev/streamgw/internal/domain/model"
	"github.com/hszk-dev/streamgw/internal/domain/repository"
	"github.com/hszk-dev/streamgw/internal/extractor"
	"github.com/hszk-dev/streamgw/internal/metrics"
)

// DefaultMetadataFraction is the share of the remaining deadline budgeted
// to the metadata fetch before any provider fan-out starts.
const DefaultMetadataFraction = 0.25

// DefaultProviderCeiling caps a single provider's task even when the
// overall deadline would allow more.
const DefaultProviderCeiling = 6 * time.Second

// AggregateConfig configures one Aggregate call.
type AggregateConfig struct {
	// Providers is the ordered, enabled provider ID list. Result ordering
	// follows this slice, then each provider's own link order.
	Providers []string

	// MetadataFraction is the fraction of the remaining deadline reserved
	// for the metadata fetch. Defaults to DefaultMetadataFraction.
	MetadataFraction float64

	// ProviderCeiling caps a single provider task's own budget regardless
	// of how much deadline remains. Defaults to DefaultProviderCeiling.
	ProviderCeiling time.Duration

	// PreviewTTL is how long a provider's PreviewStream set is cached.
	PreviewTTL time.Duration
}

func (cfg AggregateConfig) withDefaults() AggregateConfig {
	if cfg.MetadataFraction <= 0 {
		cfg.MetadataFraction = DefaultMetadataFraction
	}
	if cfg.ProviderCeiling <= 0 {
		cfg.ProviderCeiling = DefaultProviderCeiling
	}
	if cfg.PreviewTTL <= 0 {
		cfg.PreviewTTL = 15 * time.Minute
	}
	return cfg
}

// Scheduler implements the five-step discovery algorithm: fetch metadata
// (bounded), fan out across providers (bounded, isolated), collect, order,
// dedup.
type Scheduler struct {
	meta     repository.MetaService
	registry *extractor.Registry
	store    *cachefab.Store
}

// New builds a Scheduler from its collaborators.
func New(meta repository.MetaService, registry *extractor.Registry, store *cachefab.Store) *Scheduler {
	return &Scheduler{meta: meta, registry: registry, store: store}
}

// Aggregate runs the discovery pipeline for key, returning cheap preview
// entries ordered by cfg.Providers then by each provider's own link order,
// deduplicated by OpaqueURL (the pre-wrap provider URL at this stage — the
// resolver API handler is responsible for rewriting it through
// opaqueurl.Wrap before it ever reaches a client).
func (s *Scheduler) Aggregate(ctx context.Context, key model.MediaKey, cfg AggregateConfig, deadline time.Time) ([]model.PreviewStream, error) {
	cfg = cfg.withDefaults()
	start := time.Now()
	defer func() {
		metrics.AggregationDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil, context.DeadlineExceeded
	}

	metaBudget := time.Duration(float64(remaining) * cfg.MetadataFraction)
	metaCtx, cancelMeta := context.WithTimeout(ctx, metaBudget)
	meta, err := s.meta.GetMetadata(metaCtx, key)
	cancelMeta()
	if err != nil {
		return nil, fmt.Errorf("aggregator: fetch metadata: %w", err)
	}

	results := make([][]model.PreviewStream, len(cfg.Providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, providerID := range cfg.Providers {
		i, providerID := i, providerID
		g.Go(func() error {
			providerDeadline := remaining - metaBudget
			if providerDeadline > cfg.ProviderCeiling {
				providerDeadline = cfg.ProviderCeiling
			}
			if providerDeadline <= 0 {
				providerDeadline = cfg.ProviderCeiling
			}
			taskCtx, cancel := context.WithTimeout(gctx, providerDeadline)
			defer cancel()

			streams, status := s.runProviderTask(taskCtx, providerID, key, meta, cfg)
			metrics.ProviderTasksTotal.WithLabelValues(providerID, status).Inc()
			results[i] = streams
			// Provider errors are isolated: never propagate to the group,
			// never abort sibling providers.
			return nil
		})
	}
	// g.Wait error is always nil by construction above; kept for goroutine
	// lifecycle/cancellation propagation only, per spec 4.7.
	_ = g.Wait()

	return dedupByOpaqueURL(flattenInOrder(results)), nil
}

// runProviderTask executes one provider's discovery task, wrapped in a
// single cache-fabric GetOrCompute call, and recovers any panic raised by
// the provider's Extractor into an isolated failure.
func (s *Scheduler) runProviderTask(ctx context.Context, providerID string, key model.MediaKey, meta model.Metadata, cfg AggregateConfig) (streams []model.PreviewStream, status string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("provider task panicked", "provider", providerID, "media_key", key.String(), "panic", rec)
			streams, status = nil, metrics.ProviderTaskPanicRecovered
		}
	}()

	cacheKey := providerID + ":" + key.CacheKeyPrefix()
	raw, err := s.store.GetOrCompute(ctx, cacheKey, cfg.PreviewTTL, func(ctx context.Context) ([]byte, error) {
		links, err := s.discoverProviderLinks(ctx, providerID, key, meta)
		if err != nil {
			return nil, err
		}
		return json.Marshal(toPreviewStreams(providerID, key, links))
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, metrics.ProviderTaskTimeout
		}
		slog.Warn("provider task failed", "provider", providerID, "media_key", key.String(), "error", err)
		return nil, metrics.ProviderTaskError
	}

	var out []model.PreviewStream
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, metrics.ProviderTaskError
	}
	return out, metrics.ProviderTaskSuccess
}

// discoverProviderLinks runs one provider's Search -> Load sequence,
// trying each of the metadata's search terms until one yields a hit.
func (s *Scheduler) discoverProviderLinks(ctx context.Context, providerID string, key model.MediaKey, meta model.Metadata) ([]model.ProviderLink, error) {
	ext, ok := s.registry.Get(providerID)
	if !ok {
		return nil, fmt.Errorf("aggregator: provider %q not registered", providerID)
	}

	for _, term := range meta.SearchTerms() {
		hits, err := ext.Search(ctx, term)
		if err != nil {
			return nil, fmt.Errorf("aggregator: search %q: %w", providerID, err)
		}
		if len(hits) == 0 {
			continue
		}

		loaded, err := ext.Load(ctx, hits[0].URL)
		if err != nil {
			return nil, fmt.Errorf("aggregator: load %q: %w", providerID, err)
		}
		return stampEpisodeRef(loaded.Links, key), nil
	}

	return nil, nil
}

func stampEpisodeRef(links []model.ProviderLink, key model.MediaKey) []model.ProviderLink {
	if key.Kind != model.KindEpisode {
		return links
	}
	out := make([]model.ProviderLink, len(links))
	for i, l := range links {
		l.Season, l.Episode = key.Season, key.Episode
		out[i] = l
	}
	return out
}

func toPreviewStreams(providerID string, key model.MediaKey, links []model.ProviderLink) []model.PreviewStream {
	out := make([]model.PreviewStream, 0, len(links))
	for _, l := range links {
		out = append(out, model.PreviewStream{
			Provider:        providerID,
			OpaqueURL:       l.URL, // raw provider URL; wrapped by the API handler before leaving the gateway
			DisplayLabel:    l.Label,
			ResolutionTag:   l.Resolution,
			SizeBytes:       l.SizeBytes,
			Languages:       l.Languages,
			NeedsResolution: true,
			Hints: model.Hints{
				Season:        l.Season,
				Episode:       l.Episode,
				Resolution:    l.Resolution,
				PreferredHost: providerID,
			},
		})
	}
	return out
}

func flattenInOrder(perProvider [][]model.PreviewStream) []model.PreviewStream {
	var out []model.PreviewStream
	for _, streams := range perProvider {
		out = append(out, streams...)
	}
	return out
}

func dedupByOpaqueURL(streams []model.PreviewStream) []model.PreviewStream {
	seen := make(map[string]struct{}, len(streams))
	out := make([]model.PreviewStream, 0, len(streams))
	for _, s := range streams {
		if _, ok := seen[s.OpaqueURL]; ok {
			continue
		}
		seen[s.OpaqueURL] = struct{}{}
		out = append(out, s)
	}
	return out
}
