package cachefab

import (
	"encoding/json"
	"fmt"

	"github.com/hszk-dev/streamgw/internal/domain/model"
)

// MergeLinks implements the spec 4.3.1 merge rule for a background refresh
// of a provider-link list: every fresh link is kept, and every stale link
// whose Fingerprint does not appear in fresh is carried forward too, so a
// slow or momentarily-failing provider does not cause its links to
// disappear from the aggregate the instant a refresh completes.
func MergeLinks(stale, fresh []model.ProviderLink) []model.ProviderLink {
	freshKeys := make(map[string]struct{}, len(fresh))
	merged := make([]model.ProviderLink, 0, len(stale)+len(fresh))
	merged = append(merged, fresh...)
	for _, l := range fresh {
		freshKeys[l.Fingerprint()] = struct{}{}
	}
	for _, l := range stale {
		if _, ok := freshKeys[l.Fingerprint()]; ok {
			continue
		}
		merged = append(merged, l)
	}
	return merged
}

// WithLinkMerge adapts MergeLinks into the byte-level WithMerge option,
// JSON-decoding both sides and re-encoding the merged result. A decode
// failure on either side falls back to the fresh bytes verbatim, since a
// corrupt stale entry must not block a refresh from taking effect.
func WithLinkMerge() Option {
	return WithMerge(func(old, fresh []byte) []byte {
		var staleLinks, freshLinks []model.ProviderLink
		if err := json.Unmarshal(old, &staleLinks); err != nil {
			return fresh
		}
		if err := json.Unmarshal(fresh, &freshLinks); err != nil {
			return fresh
		}
		merged, err := json.Marshal(MergeLinks(staleLinks, freshLinks))
		if err != nil {
			return fresh
		}
		return merged
	})
}

// EncodeLinks and DecodeLinks are the canonical (de)serialization used by
// callers storing []model.ProviderLink through Store.
func EncodeLinks(links []model.ProviderLink) ([]byte, error) {
	return json.Marshal(links)
}

func DecodeLinks(data []byte) ([]model.ProviderLink, error) {
	var links []model.ProviderLink
	if err := json.Unmarshal(data, &links); err != nil {
		return nil, fmt.Errorf("cachefab: decode links: %w", err)
	}
	return links, nil
}
