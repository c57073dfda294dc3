// Package model contains the domain entities shared across the gateway:
// media identity, provider-normalized links, and the preview/final stream
// shapes that flow from discovery through resolution.
package model

import (
	"errors"
	"fmt"
)

// Kind identifies whether a MediaKey refers to a movie or a TV episode.
type Kind string

const (
	KindMovie   Kind = "movie"
	KindEpisode Kind = "episode"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindMovie, KindEpisode:
		return true
	default:
		return false
	}
}

var (
	ErrInvalidKind       = errors.New("media kind must be movie or episode")
	ErrEmptyExternalID   = errors.New("external id cannot be empty")
	ErrMissingEpisodeRef = errors.New("episode media key requires season and episode")
)

// MediaKey identifies a movie or a single TV episode. Equality of MediaKey
// defines the cache key prefix used across the aggregator, cache fabric and
// resolver (spec invariant: the cache never returns a value produced by a
// different MediaKey).
type MediaKey struct {
	Kind       Kind
	ExternalID string
	Season     int // 1-based; zero for movies
	Episode    int // 1-based; zero for movies
}

// NewMediaKey validates and constructs a MediaKey.
func NewMediaKey(kind Kind, externalID string, season, episode int) (MediaKey, error) {
	if !kind.IsValid() {
		return MediaKey{}, ErrInvalidKind
	}
	if externalID == "" {
		return MediaKey{}, ErrEmptyExternalID
	}
	if kind == KindEpisode && (season <= 0 || episode <= 0) {
		return MediaKey{}, ErrMissingEpisodeRef
	}
	return MediaKey{Kind: kind, ExternalID: externalID, Season: season, Episode: episode}, nil
}

// CacheKeyPrefix builds the structural prefix "{kind}:{externalId}[:SxxEyy]"
// that every cache key in the system must be built from (spec invariant
// iii). Callers must never hand-assemble this string themselves.
func (k MediaKey) CacheKeyPrefix() string {
	if k.Kind == KindEpisode {
		return fmt.Sprintf("%s:%s:S%02dE%02d", k.Kind, k.ExternalID, k.Season, k.Episode)
	}
	return fmt.Sprintf("%s:%s", k.Kind, k.ExternalID)
}

func (k MediaKey) String() string {
	return k.CacheKeyPrefix()
}
