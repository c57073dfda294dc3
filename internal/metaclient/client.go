// Package metaclient implements the external metadata catalog collaborator
// (spec.md §6): GET /meta/{kind}/{externalId} -> {meta:{name, year,
// originalTitle?, alternativeTitles?}}. It is the repository.MetaService
// implementation the aggregator calls, with a short cache-fabric TTL and
// one retry so a single flaky catalog response never fails a whole
// aggregation pass.
package metaclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hszk-dev/streamgw/internal/cachefab"
	"github.com/hszk-dev/streamgw/internal/domain/model"
	"github.com/hszk-dev/streamgw/internal/fetch"
)

// ClientConfig configures Client construction.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Retries int
	TTL     time.Duration
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL: baseURL,
		Timeout: 8 * time.Second,
		Retries: 1,
		TTL:     6 * time.Hour,
	}
}

// Client is the repository.MetaService implementation backing the
// aggregator's metadata fetch step.
type Client struct {
	cfg     ClientConfig
	fetcher *fetch.Fetcher
	store   *cachefab.Store
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig, fetcher *fetch.Fetcher, store *cachefab.Store) *Client {
	return &Client{cfg: cfg, fetcher: fetcher, store: store}
}

type metaEnvelope struct {
	Meta metaDTO `json:"meta"`
}

type metaDTO struct {
	Name              string   `json:"name"`
	Year              int      `json:"year"`
	OriginalTitle     string   `json:"originalTitle"`
	AlternativeTitles []string `json:"alternativeTitles"`
}

// GetMetadata fetches metadata for key, stale-while-revalidate cached under
// a TTL of cfg.TTL. Metadata is treated as immutable per MediaKey for the
// duration of its TTL (spec invariant), so a background refresh simply
// replaces the cached value wholesale; no merge rule is applied here.
func (c *Client) GetMetadata(ctx context.Context, key model.MediaKey) (model.Metadata, error) {
	cacheKey := "meta:" + key.CacheKeyPrefix()
	raw, err := c.store.GetOrCompute(ctx, cacheKey, c.cfg.TTL, func(ctx context.Context) ([]byte, error) {
		return c.fetchRemote(ctx, key)
	})
	if err != nil {
		return model.Metadata{}, err
	}
	if raw == nil {
		return model.Metadata{}, fmt.Errorf("metaclient: no metadata for %q", key.String())
	}

	var dto metaDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return model.Metadata{}, fmt.Errorf("metaclient: decode cached metadata: %w", err)
	}
	return model.Metadata{
		Name:              dto.Name,
		Year:              dto.Year,
		OriginalTitle:     dto.OriginalTitle,
		AlternativeTitles: dto.AlternativeTitles,
	}, nil
}

func (c *Client) fetchRemote(ctx context.Context, key model.MediaKey) ([]byte, error) {
	url := fmt.Sprintf("%s/meta/%s/%s", trimTrailingSlash(c.cfg.BaseURL), key.Kind, key.ExternalID)

	resp, err := c.fetcher.Fetch(ctx, url, fetch.Options{
		Method:  http.MethodGet,
		Timeout: c.cfg.Timeout,
		Retries: c.cfg.Retries,
	})
	if err != nil {
		return nil, fmt.Errorf("metaclient: fetch %q: %w", url, err)
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("metaclient: %q returned HTTP %d", url, resp.Status)
	}

	var envelope metaEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("metaclient: decode response from %q: %w", url, err)
	}
	if envelope.Meta.Name == "" {
		return nil, fmt.Errorf("metaclient: %q returned metadata with no name", url)
	}
	return json.Marshal(envelope.Meta)
}

func trimTrailingSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}
