// Package gofile is a reference Extractor for gofile.io: a cloud-redirector
// shareable host whose content API requires a per-session guest account
// token before a folder's direct links can be listed. It is the
// shareable-cloud shape (lowest host-preference tier) and, like pixeldrain,
// is intentionally thin: per-host API dances vary widely across real
// debrid/cloud hosts and are out of scope for this gateway — this package
// implements just enough of the real gofile.io contract to exercise the
// registry's shape against a wrapper-requiring host.
package gofile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/hszk-dev/streamgw/internal/domain/model"
	"github.com/hszk-dev/streamgw/internal/domain/repository"
	"github.com/hszk-dev/streamgw/internal/fetch"
)

const ProviderID = "gofile"

const defaultAPIBase = "https://api.gofile.io"

var contentIDPattern = regexp.MustCompile(`gofile\.io/d/([A-Za-z0-9]+)`)

type accountResponse struct {
	Status string `json:"status"`
	Data   struct {
		Token string `json:"token"`
	} `json:"data"`
}

type contentResponse struct {
	Status string `json:"status"`
	Data   struct {
		Contents map[string]struct {
			Type string `json:"type"`
			Name string `json:"name"`
			Size int64  `json:"size"`
			Link string `json:"link"`
		} `json:"contents"`
	} `json:"data"`
}

// Extractor implements repository.Extractor for gofile.io.
type Extractor struct {
	fetcher *fetch.Fetcher
	apiBase string
	token   string // guest account token, acquired lazily on first use
}

// New wraps an existing fetcher.
func New(fetcher *fetch.Fetcher) *Extractor {
	return &Extractor{fetcher: fetcher, apiBase: defaultAPIBase}
}

// NewWithAPIBase overrides the API base URL for tests.
func NewWithAPIBase(fetcher *fetch.Fetcher, apiBase string) *Extractor {
	return &Extractor{fetcher: fetcher, apiBase: apiBase}
}

func (e *Extractor) ID() string { return ProviderID }

// Search is unsupported: gofile folders are discovered via provider page
// scraping elsewhere in the pipeline, not a searchable catalog.
func (e *Extractor) Search(ctx context.Context, query string) ([]repository.SearchResult, error) {
	return nil, nil
}

// Load lists every file in a gofile.io/d/{id} folder as provider links.
func (e *Extractor) Load(ctx context.Context, pageURL string) (repository.LoadResult, error) {
	id, err := contentID(pageURL)
	if err != nil {
		return repository.LoadResult{}, err
	}

	token, err := e.accountToken(ctx)
	if err != nil {
		return repository.LoadResult{}, err
	}

	content, err := e.fetchContent(ctx, id, token)
	if err != nil {
		return repository.LoadResult{}, err
	}

	var links []model.ProviderLink
	for _, c := range content.Data.Contents {
		if c.Type != "file" {
			continue
		}
		links = append(links, model.ProviderLink{
			URL:       c.Link,
			Label:     c.Name,
			SizeBytes: c.Size,
			Tier:      model.HostTierShareableCloud,
		})
	}
	return repository.LoadResult{Links: links}, nil
}

// ProcessExtractor resolves a single gofile folder URL to its file links,
// tagged at the shareable-cloud host tier per the lowest host-preference
// ranking in the spec's host ordering.
func (e *Extractor) ProcessExtractor(ctx context.Context, pageURL string, priority int) ([]model.ProviderLink, error) {
	result, err := e.Load(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	for i := range result.Links {
		result.Links[i].Priority = priority
	}
	return result.Links, nil
}

func (e *Extractor) accountToken(ctx context.Context) (string, error) {
	if e.token != "" {
		return e.token, nil
	}

	resp, err := e.fetcher.Fetch(ctx, e.apiBase+"/accounts", fetch.Options{
		Method: http.MethodPost,
	})
	if err != nil {
		return "", fmt.Errorf("gofile: create guest account: %w", err)
	}
	if resp.Status != http.StatusOK {
		return "", fmt.Errorf("gofile: create guest account returned HTTP %d", resp.Status)
	}

	var acc accountResponse
	if err := json.Unmarshal(resp.Body, &acc); err != nil {
		return "", fmt.Errorf("gofile: decode account response: %w", err)
	}
	if acc.Status != "ok" || acc.Data.Token == "" {
		return "", fmt.Errorf("gofile: account creation returned status %q", acc.Status)
	}

	e.token = acc.Data.Token
	return e.token, nil
}

func (e *Extractor) fetchContent(ctx context.Context, id, token string) (contentResponse, error) {
	resp, err := e.fetcher.Fetch(ctx, fmt.Sprintf("%s/contents/%s?token=%s", e.apiBase, id, token), fetch.Options{
		Method: http.MethodGet,
	})
	if err != nil {
		return contentResponse{}, fmt.Errorf("gofile: fetch content: %w", err)
	}
	if resp.Status != http.StatusOK {
		return contentResponse{}, fmt.Errorf("gofile: fetch content returned HTTP %d", resp.Status)
	}

	var content contentResponse
	if err := json.Unmarshal(resp.Body, &content); err != nil {
		return contentResponse{}, fmt.Errorf("gofile: decode content response: %w", err)
	}
	if content.Status != "ok" {
		return contentResponse{}, fmt.Errorf("gofile: content response returned status %q", content.Status)
	}
	return content, nil
}

func contentID(pageURL string) (string, error) {
	if m := contentIDPattern.FindStringSubmatch(pageURL); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("gofile: cannot parse content id from %q", pageURL)
}

var _ repository.Extractor = (*Extractor)(nil)
