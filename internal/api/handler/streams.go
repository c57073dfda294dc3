package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hszk-dev/streamgw/internal/aggregator"
	"github.com/hszk-dev/streamgw/internal/domain/model"
	"github.com/hszk-dev/streamgw/internal/opaqueurl"
)

// ProviderSource returns the currently enabled provider ID list. It is
// satisfied by *config.ProviderReloader, kept as a narrow interface here so
// the handler package depends on a method, not on the config package.
type ProviderSource interface {
	Enabled() []string
}

// StreamsHandler serves GET /streams/{kind}/{id}.
type StreamsHandler struct {
	scheduler *aggregator.Scheduler
	providers ProviderSource
	cfg       aggregator.AggregateConfig
	deadline  time.Duration
	baseURL   string
	logger    *slog.Logger
}

// StreamsHandlerConfig configures a StreamsHandler.
type StreamsHandlerConfig struct {
	Scheduler        *aggregator.Scheduler
	Providers        ProviderSource
	BaseURL          string
	Deadline         time.Duration // overall per-request aggregation budget
	MetadataFraction float64
	ProviderCeiling  time.Duration
	PreviewTTL       time.Duration
	Logger           *slog.Logger
}

// NewStreamsHandler builds a StreamsHandler.
func NewStreamsHandler(cfg StreamsHandlerConfig) *StreamsHandler {
	deadline := cfg.Deadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamsHandler{
		scheduler: cfg.Scheduler,
		providers: cfg.Providers,
		cfg: aggregator.AggregateConfig{
			MetadataFraction: cfg.MetadataFraction,
			ProviderCeiling:  cfg.ProviderCeiling,
			PreviewTTL:       cfg.PreviewTTL,
		},
		deadline: deadline,
		baseURL:  cfg.BaseURL,
		logger:   logger,
	}
}

// streamEntry mirrors the Stremio-style addon manifest entry: name, title,
// url, and an optional behaviorHints block signaling the player whether a
// callback through /resolve is required before playback can start.
type streamEntry struct {
	Name          string         `json:"name"`
	Title         string         `json:"title"`
	URL           string         `json:"url"`
	BehaviorHints *behaviorHints `json:"behaviorHints,omitempty"`
}

type behaviorHints struct {
	NotWebReady bool `json:"notWebReady,omitempty"`
}

type streamsResponse struct {
	Streams []streamEntry `json:"streams"`
}

// Streams aggregates preview links for {kind}/{id} and wraps each into the
// opaque-URL callback scheme. It always returns 200: a total aggregation
// failure or an empty provider set both render as an empty "streams" list
// rather than propagating a server error to the client.
func (h *StreamsHandler) Streams(w http.ResponseWriter, r *http.Request) {
	kind := model.Kind(chi.URLParam(r, "kind"))
	id := chi.URLParam(r, "id")

	season, episode := parseEpisodeRefParams(r)
	key, err := model.NewMediaKey(kind, id, season, episode)
	if err != nil {
		JSON(w, http.StatusOK, streamsResponse{Streams: []streamEntry{}})
		return
	}

	cfg := h.cfg
	cfg.Providers = h.providers.Enabled()

	ctx := r.Context()
	previews, err := h.scheduler.Aggregate(ctx, key, cfg, time.Now().Add(h.deadline))
	if err != nil {
		h.logger.Warn("aggregate failed", "media_key", key.String(), "error", err)
		JSON(w, http.StatusOK, streamsResponse{Streams: []streamEntry{}})
		return
	}

	entries := make([]streamEntry, 0, len(previews))
	for _, p := range previews {
		wrapped := opaqueurl.Wrap(h.baseURL, p.Provider, p.OpaqueURL, p.Hints)
		entries = append(entries, streamEntry{
			Name:  p.Provider,
			Title: streamTitle(p),
			URL:   wrapped,
			BehaviorHints: &behaviorHints{
				NotWebReady: p.NeedsResolution,
			},
		})
	}

	JSON(w, http.StatusOK, streamsResponse{Streams: entries})
}

func streamTitle(p model.PreviewStream) string {
	title := p.DisplayLabel
	if p.ResolutionTag != model.ResolutionUnknown {
		if title != "" {
			title += " "
		}
		title += "[" + string(p.ResolutionTag) + "]"
	}
	if title == "" {
		title = p.Provider
	}
	return title
}

func parseEpisodeRefParams(r *http.Request) (season, episode int) {
	season = queryInt(r, "season")
	episode = queryInt(r, "episode")
	return season, episode
}

func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
