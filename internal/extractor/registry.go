// Package extractor implements C5: a registry presenting a uniform
// Search/Load/ProcessExtractor shape over per-provider scraping adapters.
// The registry holds no scraping logic itself — it is built from a slice of
// registrations at construction time, not a package-level map, so it can be
// constructed per-process and unit tested without global state.
package extractor

import (
	"fmt"

	"github.com/hszk-dev/streamgw/internal/domain/repository"
)

// Registry resolves a provider ID to its Extractor.
type Registry struct {
	byID map[string]repository.Extractor
	ids  []string // insertion order, preserved for aggregator fan-out ordering
}

// New builds a Registry from extractors, keyed by each one's ID(). A
// duplicate ID is a construction-time error: two registrations racing to
// own the same provider slot is a configuration mistake, not a runtime
// condition to paper over.
func New(extractors ...repository.Extractor) (*Registry, error) {
	r := &Registry{byID: make(map[string]repository.Extractor, len(extractors))}
	for _, e := range extractors {
		id := e.ID()
		if _, exists := r.byID[id]; exists {
			return nil, fmt.Errorf("extractor: duplicate provider id %q", id)
		}
		r.byID[id] = e
		r.ids = append(r.ids, id)
	}
	return r, nil
}

// Get returns the extractor registered under id, if any.
func (r *Registry) Get(id string) (repository.Extractor, bool) {
	e, ok := r.byID[id]
	return e, ok
}

// IDs returns every registered provider id in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Len reports how many extractors are registered.
func (r *Registry) Len() int {
	return len(r.byID)
}
