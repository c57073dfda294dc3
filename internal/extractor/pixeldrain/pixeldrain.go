// Package pixeldrain is a reference Extractor for pixeldrain.com: a direct
// CDN metadata API whose file descriptor resolves straight to a signed,
// range-capable download URL. It is a trusted-host, opaque-CDN shape —
// the simplest of the two reference extractors — and is intentionally
// thin: per-host scraping/decrypt logic is out of scope for this gateway
// (the registry only needs the Extractor shape to hold), so this package
// implements just enough of the real pixeldrain API contract to exercise
// that shape end to end.
package pixeldrain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/hszk-dev/streamgw/internal/domain/model"
	"github.com/hszk-dev/streamgw/internal/domain/repository"
	"github.com/hszk-dev/streamgw/internal/fetch"
)

const ProviderID = "pixeldrain"

const defaultAPIBase = "https://pixeldrain.com/api/file"

var idPattern = regexp.MustCompile(`pixeldrain\.com/u/([A-Za-z0-9]+)`)

type fileInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// Extractor implements repository.Extractor for pixeldrain.
type Extractor struct {
	fetcher *fetch.Fetcher
	apiBase string
}

// New wraps an existing fetcher so outbound calls share the gateway's
// bounded, retried HTTP behavior.
func New(fetcher *fetch.Fetcher) *Extractor {
	return &Extractor{fetcher: fetcher, apiBase: defaultAPIBase}
}

// NewWithAPIBase overrides the API base URL, used by tests to point at a
// local httptest server instead of the real pixeldrain.com.
func NewWithAPIBase(fetcher *fetch.Fetcher, apiBase string) *Extractor {
	return &Extractor{fetcher: fetcher, apiBase: apiBase}
}

func (e *Extractor) ID() string { return ProviderID }

// Search is unsupported: pixeldrain is a direct-link host discovered via
// provider page scraping elsewhere in the pipeline, not a searchable
// catalog in its own right.
func (e *Extractor) Search(ctx context.Context, query string) ([]repository.SearchResult, error) {
	return nil, nil
}

// Load fetches the pixeldrain file-info API for a /u/{id} page URL and
// returns its single download link as a LoadResult.
func (e *Extractor) Load(ctx context.Context, pageURL string) (repository.LoadResult, error) {
	id, err := fileID(pageURL)
	if err != nil {
		return repository.LoadResult{}, err
	}

	info, err := e.fetchInfo(ctx, id)
	if err != nil {
		return repository.LoadResult{}, err
	}

	return repository.LoadResult{
		Title: info.Name,
		Links: []model.ProviderLink{{
			URL:       e.downloadURL(id),
			Label:     info.Name,
			SizeBytes: info.Size,
			Tier:      model.HostTierCDNDirect,
			Hash:      id,
		}},
	}, nil
}

// ProcessExtractor resolves a pixeldrain page URL straight to its signed
// download URL; there is no further wrapper hop for this host.
func (e *Extractor) ProcessExtractor(ctx context.Context, pageURL string, priority int) ([]model.ProviderLink, error) {
	id, err := fileID(pageURL)
	if err != nil {
		return nil, err
	}

	info, err := e.fetchInfo(ctx, id)
	if err != nil {
		return nil, err
	}

	return []model.ProviderLink{{
		URL:       e.downloadURL(id),
		Label:     info.Name,
		SizeBytes: info.Size,
		Priority:  priority,
		Tier:      model.HostTierCDNDirect,
		Hash:      id,
	}}, nil
}

func (e *Extractor) fetchInfo(ctx context.Context, id string) (fileInfo, error) {
	resp, err := e.fetcher.Fetch(ctx, fmt.Sprintf("%s/%s/info", e.apiBase, id), fetch.Options{
		Method:          http.MethodGet,
		FollowRedirects: true,
	})
	if err != nil {
		return fileInfo{}, fmt.Errorf("pixeldrain: fetch file info: %w", err)
	}
	if resp.Status != http.StatusOK {
		return fileInfo{}, fmt.Errorf("pixeldrain: file info returned HTTP %d", resp.Status)
	}

	var info fileInfo
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		return fileInfo{}, fmt.Errorf("pixeldrain: decode file info: %w", err)
	}
	return info, nil
}

func fileID(pageURL string) (string, error) {
	if m := idPattern.FindStringSubmatch(pageURL); m != nil {
		return m[1], nil
	}
	if strings.HasPrefix(pageURL, "pd:") {
		return strings.TrimPrefix(pageURL, "pd:"), nil
	}
	return "", fmt.Errorf("pixeldrain: cannot parse file id from %q", pageURL)
}

func (e *Extractor) downloadURL(id string) string {
	return fmt.Sprintf("%s/%s?download", e.apiBase, id)
}

var _ repository.Extractor = (*Extractor)(nil)
