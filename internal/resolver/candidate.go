package resolver

import (
	"sort"
	"strings"

	"github.com/hszk-dev/streamgw/internal/domain/model"
)

// rankKey is a candidate's position in the selection order: earlier fields
// dominate later ones.
type rankKey struct {
	hostMatch bool
	priority  int
	resMatch  bool
	tier      model.HostTier
}

func keyFor(l model.ProviderLink, hints model.Hints) rankKey {
	return rankKey{
		hostMatch: hints.PreferredHost != "" && strings.EqualFold(hostOf(l.URL), hints.PreferredHost),
		priority:  l.Priority,
		resMatch:  hints.Resolution != model.ResolutionUnknown && l.Resolution == hints.Resolution,
		tier:      l.Tier,
	}
}

func (a rankKey) less(b rankKey) bool {
	if a.hostMatch != b.hostMatch {
		return a.hostMatch
	}
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if a.resMatch != b.resMatch {
		return a.resMatch
	}
	return a.tier < b.tier
}

// rankCandidates orders candidates by preferred-host match, then
// extractor-assigned priority (higher first), then requested resolution
// match, then HostTier (lower/better first). Ties preserve relative input
// order.
func rankCandidates(candidates []model.ProviderLink, hints model.Hints) []model.ProviderLink {
	out := make([]model.ProviderLink, len(candidates))
	copy(out, candidates)

	sort.SliceStable(out, func(i, j int) bool {
		return keyFor(out[i], hints).less(keyFor(out[j], hints))
	})
	return out
}
