package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hszk-dev/streamgw/internal/cachefab"
	"github.com/hszk-dev/streamgw/internal/domain/model"
	"github.com/hszk-dev/streamgw/internal/extractor"
	"github.com/hszk-dev/streamgw/internal/fetch"
	"github.com/hszk-dev/streamgw/internal/opaqueurl"
	"github.com/hszk-dev/streamgw/internal/resolver"
	"github.com/hszk-dev/streamgw/internal/seekprobe"
)

func newTestResolveHandler(t *testing.T) *ResolveHandler {
	t.Helper()
	f, err := fetch.New()
	if err != nil {
		t.Fatalf("fetch.New: %v", err)
	}
	prober := seekprobe.New(f, nil)
	reg, err := extractor.New()
	if err != nil {
		t.Fatalf("extractor.New: %v", err)
	}
	store, err := cachefab.New(cachefab.Config{})
	if err != nil {
		t.Fatalf("cachefab.New: %v", err)
	}
	res := resolver.New(f, prober, reg, nil, store)
	return NewResolveHandler(ResolveHandlerConfig{Resolver: res, Fetcher: f, BaseURL: "https://gw.example.com"})
}

func TestResolve_RedirectsToDirectURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-1/99")
		w.Header().Set("Content-Length", "2")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("hi"))
	}))
	defer srv.Close()

	h := newTestResolveHandler(t)
	opaque := opaqueurl.Wrap("", "direct", srv.URL, model.Hints{})

	req := httptest.NewRequest(http.MethodGet, opaque, nil)
	w := httptest.NewRecorder()
	h.Resolve(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if got := w.Header().Get("Location"); got != srv.URL {
		t.Errorf("Location = %q, want %q", got, srv.URL)
	}
}

func TestResolve_MalformedOpaqueURLReturns400(t *testing.T) {
	h := newTestResolveHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/resolve/", nil)
	w := httptest.NewRecorder()
	h.Resolve(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestResolve_UnresolvableCandidateReturns502(t *testing.T) {
	h := newTestResolveHandler(t)
	opaque := opaqueurl.Wrap("", "direct", "https://lh3.googleusercontent.com/fake", model.Hints{})

	req := httptest.NewRequest(http.MethodGet, opaque, nil)
	w := httptest.NewRecorder()
	h.Resolve(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestRewriteM3U8_RewritesChildURIsThroughSameTagAndHints(t *testing.T) {
	playlist := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000\nlow/index.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=1600000\nhttps://cdn.example.com/hi/index.m3u8\n"
	hints := model.Hints{Resolution: model.Resolution1080p}

	out := string(rewriteM3U8([]byte(playlist), "https://cdn.example.com/master.m3u8", "pixeldrain", hints, "https://gw.example.com"))

	lines := strings.Split(out, "\n")
	if lines[0] != "#EXTM3U" {
		t.Errorf("comment line mutated: %q", lines[0])
	}
	if !strings.HasPrefix(lines[2], "https://gw.example.com/resolve/pixeldrain/") {
		t.Errorf("relative child URI not rewritten through resolve prefix: %q", lines[2])
	}
	if !strings.Contains(lines[2], "res%3D1080p") && !strings.Contains(lines[2], "res=1080p") {
		t.Errorf("rewritten URI missing hints: %q", lines[2])
	}
	if !strings.HasPrefix(lines[4], "https://gw.example.com/resolve/pixeldrain/") {
		t.Errorf("absolute child URI not rewritten through resolve prefix: %q", lines[4])
	}
}
