package repository

import (
	"context"

	"github.com/hszk-dev/streamgw/internal/domain/model"
)

// SearchResult is one hit from Extractor.Search.
type SearchResult struct {
	Title string
	URL   string
	Year  int
}

// LoadResult is the provider page contents after Extractor.Load, carrying
// the raw provider-native download links before extraction.
type LoadResult struct {
	Title string
	Year  int
	Links []model.ProviderLink
}

// Extractor is the uniform shape every provider adapter must present (spec
// 4.5). Extractors implement per-host scraping/decrypt logic that is
// explicitly out of scope for this gateway; the registry only needs this
// interface to hold.
type Extractor interface {
	// ID is the stable provider identifier used in cache keys and opaque
	// URL tags.
	ID() string

	// Search looks up candidate provider pages for a query string.
	Search(ctx context.Context, query string) ([]SearchResult, error)

	// Load fetches a provider page and returns its native download links.
	Load(ctx context.Context, url string) (LoadResult, error)

	// ProcessExtractor resolves a single provider-native link (host-specific
	// decrypt/API dance) into ranked candidate ProviderLinks.
	ProcessExtractor(ctx context.Context, url string, priority int) ([]model.ProviderLink, error)
}
