// Package opaqueurl implements the wrap/unwrap scheme of spec §6: a stable,
// self-describing URL the player calls back into the resolver API with,
// carrying enough hints (episode reference, preferred resolution, preferred
// host) that C6 can resolve it without re-running discovery. Both
// directions are pure functions of their input — no mutable state.
package opaqueurl

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/hszk-dev/streamgw/internal/domain/model"
)

// ErrMalformed is returned by Unwrap when the opaque URL does not match the
// wrap scheme.
var ErrMalformed = fmt.Errorf("opaqueurl: malformed opaque URL")

// Wrap produces the stable opaque URL scheme:
//
//	{base}/resolve/{tag}/{urlencode(origUrl#hashHints)}?provider={tag}
//
// The hash fragment carries ep=SxxExx&res={...}&host={...} so resolve-time
// decoding never has to re-run discovery.
func Wrap(base, tag, origURL string, hints model.Hints) string {
	withHints := origURL
	if frag := encodeHints(hints); frag != "" {
		withHints = origURL + "#" + frag
	}
	encoded := url.QueryEscape(withHints)
	base = strings.TrimSuffix(base, "/")
	return fmt.Sprintf("%s/resolve/%s/%s?provider=%s", base, url.PathEscape(tag), encoded, url.QueryEscape(tag))
}

// Unwrap reverses Wrap, given the opaque URL exactly as the player calls it
// (or the {tag}/{encoded-segment}[?query] suffix a router has already split
// off the base). It returns the original provider URL, the provider tag,
// and the decoded hints.
func Unwrap(opaqueURL string) (origURL string, tag string, hints model.Hints, err error) {
	u, err := url.Parse(opaqueURL)
	if err != nil {
		return "", "", model.Hints{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	// Split on the still-escaped path, not u.Path: Wrap's url.QueryEscape
	// turns "/" into "%2F", and url.Parse decodes that back into u.Path, so
	// splitting u.Path over-segments the encoded origin URL and truncates it
	// at its first decoded slash.
	segments := splitNonEmpty(u.EscapedPath())
	tag, encoded, err := tagAndEncodedFromPath(segments)
	if err != nil {
		return "", "", model.Hints{}, err
	}
	if unescapedTag, uerr := url.PathUnescape(tag); uerr == nil {
		tag = unescapedTag
	}

	if q := u.Query().Get("provider"); q != "" {
		tag = q
	}

	decoded, err := url.QueryUnescape(encoded)
	if err != nil {
		return "", "", model.Hints{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	origURL, fragment, _ := strings.Cut(decoded, "#")
	if origURL == "" {
		return "", "", model.Hints{}, ErrMalformed
	}

	hints = decodeHints(fragment)
	return origURL, tag, hints, nil
}

func tagAndEncodedFromPath(segments []string) (tag, encoded string, err error) {
	for i, s := range segments {
		if s == "resolve" && i+2 < len(segments) {
			return segments[i+1], segments[i+2], nil
		}
		if s == "resolve" && i+2 == len(segments) {
			// resolve/{encoded} with no tag segment — unusual but tolerated.
			return "", segments[i+1], nil
		}
	}
	// No "resolve" segment: treat the whole path as {tag}/{encoded}.
	if len(segments) >= 2 {
		return segments[len(segments)-2], segments[len(segments)-1], nil
	}
	if len(segments) == 1 {
		return "", segments[0], nil
	}
	return "", "", ErrMalformed
}

func splitNonEmpty(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func encodeHints(h model.Hints) string {
	var parts []string
	if h.Season > 0 || h.Episode > 0 {
		parts = append(parts, fmt.Sprintf("ep=S%02dE%02d", h.Season, h.Episode))
	}
	if h.Resolution != model.ResolutionUnknown {
		parts = append(parts, "res="+string(h.Resolution))
	}
	if h.PreferredHost != "" {
		parts = append(parts, "host="+url.QueryEscape(h.PreferredHost))
	}
	return strings.Join(parts, "&")
}

func decodeHints(fragment string) model.Hints {
	var h model.Hints
	if fragment == "" {
		return h
	}
	for _, kv := range strings.Split(fragment, "&") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case "ep":
			h.Season, h.Episode = parseEpisodeRef(v)
		case "res":
			h.Resolution = model.Resolution(v)
		case "host":
			if decoded, err := url.QueryUnescape(v); err == nil {
				h.PreferredHost = decoded
			} else {
				h.PreferredHost = v
			}
		}
	}
	return h
}

// parseEpisodeRef parses "SxxExx" (e.g. "S01E02") into (season, episode).
func parseEpisodeRef(s string) (season, episode int) {
	s = strings.ToUpper(s)
	eIdx := strings.IndexByte(s, 'E')
	if eIdx < 0 || !strings.HasPrefix(s, "S") {
		return 0, 0
	}
	seasonPart := s[1:eIdx]
	episodePart := s[eIdx+1:]
	season, _ = strconv.Atoi(seasonPart)
	episode, _ = strconv.Atoi(episodePart)
	return season, episode
}
