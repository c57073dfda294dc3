package model

// Resolution is a closed set of advertised stream qualities. Providers report
// heterogeneous strings; extractors normalize into this enum so the resolver
// and cache fabric never have to string-match raw provider output.
type Resolution string

const (
	Resolution480p  Resolution = "480p"
	Resolution720p  Resolution = "720p"
	Resolution1080p Resolution = "1080p"
	Resolution2160p Resolution = "2160p"
	ResolutionUnknown Resolution = ""
)

// HostTier orders host preference: lower values are preferred. This encodes
// the intent behind the source's inline string scores as a single ordered
// enum (CDN-direct > wrapper-with-direct > wrapper-requiring-solve >
// shareable-cloud) instead of guessed numeric weights.
type HostTier int

const (
	HostTierCDNDirect HostTier = iota
	HostTierWrapperWithDirect
	HostTierWrapperSolveRequired
	HostTierShareableCloud
	HostTierUnknown
)

// ProviderLink is the well-typed variant every provider's downloadLinks[]
// entry is normalized into. It replaces an open map[string]any: optional
// fields are explicit, and callers never need to guess a provider's shape.
type ProviderLink struct {
	URL        string
	Label      string
	Resolution Resolution
	SizeBytes  int64 // 0 if unknown
	Languages  []string
	Season     int // 0 if not episode-scoped
	Episode    int
	Priority   int // higher wins, set by extractors per spec 4.5
	Tier       HostTier
	Hash       string // provider-native content fingerprint, if advertised
}

// Fingerprint identifies a link across refreshes per the merge rule in
// spec 4.3.1: hash, then url, then name, first present wins.
func (l ProviderLink) Fingerprint() string {
	if l.Hash != "" {
		return "hash:" + l.Hash
	}
	if l.URL != "" {
		return "url:" + l.URL
	}
	return "name:" + l.Label
}
