package resolver

import (
	"net/url"
	"strings"
)

// inputClass is the result of classifyInput: which branch of the FSM a
// wrapped URL's host falls into.
type inputClass int

const (
	classShortener inputClass = iota
	classIntermediary
	classHostPage
	classOpaqueCDN
)

// shortenerHosts are short-link hosts requiring the RESOLVE_SHORT form
// dance (ouo-style "click to continue" pages).
var shortenerHosts = []string{"ouo.io", "ouo.press"}

// intermediaryHosts are wrapper/cloud-redirector hosts requiring one more
// resolution hop (RESOLVE_INTER), in the spec's explicit host-preference
// order (best first).
var intermediaryHosts = []string{"gdflix.dad", "filesdl.in", "filesdl.site", "gofile.io"}

// hostPageHosts are provider-native host pages resolved via an Extractor
// (EXTRACT_HOST) rather than a generic wrapper hop.
var hostPageHosts = []string{"pixeldrain.com", "gofile.io"}

// classifyInput determines which FSM branch a candidate URL's host falls
// into. A host can legitimately match both hostPageHosts and
// intermediaryHosts (gofile.io is both a wrapper and a registered
// extractor); hostPageHosts takes precedence since EXTRACT_HOST produces
// more precise results than a generic wrapper hop.
func classifyInput(rawURL string) inputClass {
	host := hostOf(rawURL)

	if matchesAny(host, hostPageHosts) {
		return classHostPage
	}
	if matchesAny(host, shortenerHosts) {
		return classShortener
	}
	if matchesAny(host, intermediaryHosts) {
		return classIntermediary
	}
	return classOpaqueCDN
}

// intermediaryRank returns the candidate's position in the spec's explicit
// host-preference order (lower is better) and whether it matched at all.
func intermediaryRank(rawURL string) (rank int, ok bool) {
	host := hostOf(rawURL)
	for i, h := range intermediaryHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return i, true
		}
	}
	return len(intermediaryHosts), false
}

// isGoogleUserContent reports whether rawURL's host is googleusercontent.com
// or a subdomain of it — unconditionally filtered regardless of probe
// result, per spec 4.6 (known not to support ranged requests here).
func isGoogleUserContent(rawURL string) bool {
	host := hostOf(rawURL)
	return host == "googleusercontent.com" || strings.HasSuffix(host, ".googleusercontent.com")
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func matchesAny(host string, hosts []string) bool {
	for _, h := range hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
