package handler

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hszk-dev/streamgw/internal/domain/model"
	"github.com/hszk-dev/streamgw/internal/fetch"
	"github.com/hszk-dev/streamgw/internal/opaqueurl"
	"github.com/hszk-dev/streamgw/internal/resolver"
)

// m3u8MaxBytes bounds how much of a playlist body is read for sniffing and
// rewriting; real master/media playlists are plain text and small.
const m3u8MaxBytes = 1 << 20 // 1 MiB

// ResolveHandler serves GET /resolve/{tag}/{opaque}.
type ResolveHandler struct {
	resolver *resolver.Resolver
	fetcher  *fetch.Fetcher
	baseURL  string
	logger   *slog.Logger
}

// ResolveHandlerConfig configures a ResolveHandler.
type ResolveHandlerConfig struct {
	Resolver *resolver.Resolver
	Fetcher  *fetch.Fetcher
	BaseURL  string
	Logger   *slog.Logger
}

// NewResolveHandler builds a ResolveHandler.
func NewResolveHandler(cfg ResolveHandlerConfig) *ResolveHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ResolveHandler{resolver: cfg.Resolver, fetcher: cfg.Fetcher, baseURL: cfg.BaseURL, logger: logger}
}

// Resolve decodes the opaque URL embedded in the request path, resolves it
// to a direct seekable stream, and either redirects the client to it or, for
// an HLS manifest, rewrites and serves the playlist inline so that segment
// requests re-enter the resolver through the same opaque-URL scheme.
func (h *ResolveHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	opaqueURL := r.URL.String()

	_, tag, hints, err := opaqueurl.Unwrap(opaqueURL)
	if err != nil {
		Error(w, http.StatusBadRequest, "malformed_opaque_url", err.Error())
		return
	}

	fs, err := h.resolver.Resolve(r.Context(), opaqueURL)
	if err != nil {
		h.logger.Warn("resolve failed", "tag", tag, "error", err)
		Error(w, http.StatusBadGateway, "resolve_failed", err.Error())
		return
	}

	if isM3U8(fs.DirectURL, fs.Filename) {
		if h.serveRewrittenPlaylist(w, r, fs.DirectURL, tag, hints) {
			return
		}
		// Fall through to a plain redirect if the playlist fetch/sniff
		// didn't pan out (e.g. the host doesn't actually serve m3u8).
	}

	w.Header().Set("Location", fs.DirectURL)
	w.WriteHeader(http.StatusFound)
}

func isM3U8(directURL, filename string) bool {
	return strings.HasSuffix(strings.ToLower(directURL), ".m3u8") ||
		strings.HasSuffix(strings.ToLower(filename), ".m3u8")
}

// serveRewrittenPlaylist fetches directURL, and if its body is genuinely an
// HLS manifest, rewrites every child URI to re-enter /resolve/{tag}/ with
// the same hints, then writes the rewritten playlist to w. Returns false if
// the body did not sniff as #EXTM3U, signaling the caller to fall back to a
// plain redirect.
func (h *ResolveHandler) serveRewrittenPlaylist(w http.ResponseWriter, r *http.Request, directURL, tag string, hints model.Hints) bool {
	resp, err := h.fetcher.Fetch(r.Context(), directURL, fetch.Options{MaxBodyBytes: m3u8MaxBytes, FollowRedirects: true})
	if err != nil {
		h.logger.Warn("playlist fetch failed", "url", directURL, "error", err)
		return false
	}
	if !bytes.HasPrefix(bytes.TrimSpace(resp.Body), []byte("#EXTM3U")) {
		return false
	}

	rewritten := rewriteM3U8(resp.Body, directURL, tag, hints, h.baseURL)
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rewritten)
	return true
}

// rewriteM3U8 rewrites every non-comment line of an HLS playlist (child
// playlist and media segment URIs alike) into an opaque /resolve/{tag}/ URL
// carrying the same hints, resolved relative to baseURI first. Comment/tag
// lines (starting with '#') are passed through unchanged.
func rewriteM3U8(body []byte, baseURI, tag string, hints model.Hints, gatewayBase string) []byte {
	lines := strings.Split(string(body), "\n")
	out := make([]string, len(lines))
	for i, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			out[i] = line
			continue
		}
		resolved := resolveAgainst(baseURI, trimmed)
		out[i] = opaqueurl.Wrap(gatewayBase, tag, resolved, hints)
	}
	return []byte(strings.Join(out, "\n"))
}

func resolveAgainst(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
