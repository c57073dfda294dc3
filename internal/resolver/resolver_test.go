package resolver

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/hszk-dev/streamgw/internal/cachefab"
	"github.com/hszk-dev/streamgw/internal/cfsolver"
	"github.com/hszk-dev/streamgw/internal/domain/model"
	"github.com/hszk-dev/streamgw/internal/extractor"
	"github.com/hszk-dev/streamgw/internal/fetch"
	"github.com/hszk-dev/streamgw/internal/opaqueurl"
	"github.com/hszk-dev/streamgw/internal/seekprobe"
)

func TestClassifyInput_Branches(t *testing.T) {
	cases := []struct {
		url  string
		want inputClass
	}{
		{"https://ouo.io/abc", classShortener},
		{"https://gdflix.dad/file/123", classIntermediary},
		{"https://filesdl.in/watch/123", classIntermediary},
		{"https://pixeldrain.com/u/abc123", classHostPage},
		{"https://cdn.example.com/movie.mkv", classOpaqueCDN},
	}
	for _, tc := range cases {
		if got := classifyInput(tc.url); got != tc.want {
			t.Errorf("classifyInput(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestIsGoogleUserContent(t *testing.T) {
	if !isGoogleUserContent("https://lh3.googleusercontent.com/abc") {
		t.Error("expected googleusercontent subdomain to match")
	}
	if isGoogleUserContent("https://example.com/abc") {
		t.Error("unexpected match for unrelated host")
	}
}

func TestRankCandidates_PreferredHostWins(t *testing.T) {
	candidates := []model.ProviderLink{
		{URL: "https://store.gofile.io/a", Tier: model.HostTierShareableCloud, Priority: 1},
		{URL: "https://cdn.pixeldrain.com/b", Tier: model.HostTierCDNDirect, Priority: 5},
	}
	hints := model.Hints{PreferredHost: "store.gofile.io"}

	ranked := rankCandidates(candidates, hints)
	if ranked[0].URL != "https://store.gofile.io/a" {
		t.Errorf("ranked[0] = %q, want preferred-host match first", ranked[0].URL)
	}
}

func TestRankCandidates_FallsBackToPriorityThenTier(t *testing.T) {
	candidates := []model.ProviderLink{
		{URL: "https://a.example.com/1", Tier: model.HostTierShareableCloud, Priority: 1},
		{URL: "https://b.example.com/2", Tier: model.HostTierCDNDirect, Priority: 9},
	}
	ranked := rankCandidates(candidates, model.Hints{})
	if ranked[0].URL != "https://b.example.com/2" {
		t.Errorf("ranked[0] = %q, want higher-priority candidate first", ranked[0].URL)
	}
}

func TestDecryptAESGCMPayload_RoundTrip(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("cipher.NewGCM: %v", err)
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("rand: %v", err)
	}

	plaintext := []byte("https://direct.example.com/movie.mkv")
	ciphertext := gcm.Seal(nil, iv, plaintext, nil)

	got, err := decryptAESGCMPayload(
		base64.StdEncoding.EncodeToString(key),
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(ciphertext),
	)
	if err != nil {
		t.Fatalf("decryptAESGCMPayload: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("decrypted = %q, want %q", got, plaintext)
	}
}

func TestDecryptAESGCMPayload_RejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	block, _ := aes.NewCipher(key)
	gcm, _ := cipher.NewGCM(block)
	iv := make([]byte, gcm.NonceSize())
	_, _ = rand.Read(iv)
	ciphertext := gcm.Seal(nil, iv, []byte("payload"), nil)
	ciphertext[0] ^= 0xFF

	_, err := decryptAESGCMPayload(
		base64.StdEncoding.EncodeToString(key),
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(ciphertext),
	)
	if err == nil {
		t.Error("expected authentication failure on tampered ciphertext")
	}
}

func TestResolveContext_WithHop_DetectsLoop(t *testing.T) {
	rc := newResolveContext("https://example.com/start", "tag", model.Hints{})
	rc, err := rc.withHop(http.MethodGet, "https://example.com/a", "")
	if err != nil {
		t.Fatalf("first hop: %v", err)
	}
	if _, err := rc.withHop(http.MethodGet, "https://example.com/a", ""); err != ErrLoopDetected {
		t.Errorf("expected ErrLoopDetected on repeated hop, got %v", err)
	}
}

func TestResolveContext_WithHop_CapsAbsoluteHops(t *testing.T) {
	rc := newResolveContext("https://example.com/start", "tag", model.Hints{})
	var err error
	for i := 0; i < maxLoopHops; i++ {
		rc, err = rc.withHop(http.MethodGet, httpURLFor(i), "")
		if err != nil {
			t.Fatalf("hop %d: %v", i, err)
		}
	}
	if _, err := rc.withHop(http.MethodGet, httpURLFor(maxLoopHops), ""); err != ErrTooManyHops {
		t.Errorf("expected ErrTooManyHops after %d hops, got %v", maxLoopHops, err)
	}
}

func httpURLFor(i int) string {
	return "https://example.com/" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}

func TestIsChallenge_DetectsMarkerOn403(t *testing.T) {
	resp := &fetch.Response{Status: http.StatusForbidden, Body: []byte("<html>Checking your browser before accessing...</html>")}
	if !isChallenge(resp) {
		t.Error("expected 403 with marker body to be classified as a challenge")
	}
}

func TestIsChallenge_IgnoresOrdinary403(t *testing.T) {
	resp := &fetch.Response{Status: http.StatusForbidden, Body: []byte("permission denied")}
	if isChallenge(resp) {
		t.Error("expected ordinary 403 with no marker to not be classified as a challenge")
	}
}

func TestIsChallenge_IgnoresSuccessStatus(t *testing.T) {
	resp := &fetch.Response{Status: http.StatusOK, Body: []byte("cloudflare powered site")}
	if isChallenge(resp) {
		t.Error("a 200 response should never be classified as a challenge, marker text or not")
	}
}

// TestFetchMaybeChallenged_EscalatesToSolverAndCachesCookie exercises
// spec.md §4.4's policy: a direct fetch observing a challenge signature
// escalates to CfSolver, and the solved clearance cookie lands in the
// resolution's cookie jar for subsequent direct hops.
func TestFetchMaybeChallenged_EscalatesToSolverAndCachesCookie(t *testing.T) {
	challenged := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("Checking your browser before accessing. Cloudflare"))
	}))
	defer challenged.Close()

	var solverCalls int
	solverSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		solverCalls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "ok",
			"session": "sess-1",
			"solution": {
				"response": "<html>clear</html>",
				"status": 200,
				"url": "` + challenged.URL + `",
				"cookies": [{"name": "cf_clearance", "value": "tok-123", "domain": "127.0.0.1", "path": "/"}]
			}
		}`))
	}))
	defer solverSrv.Close()

	f, err := fetch.New()
	if err != nil {
		t.Fatalf("fetch.New: %v", err)
	}
	store, err := cachefab.New(cachefab.Config{})
	if err != nil {
		t.Fatalf("cachefab.New: %v", err)
	}
	solver := cfsolver.NewClient(cfsolver.DefaultClientConfig(solverSrv.URL), f, store)
	reg, err := extractor.New()
	if err != nil {
		t.Fatalf("extractor.New: %v", err)
	}
	r := New(f, seekprobe.New(f, nil), reg, solver, store)

	jar, _ := cookiejar.New(nil)
	resp, err := r.fetchMaybeChallenged(context.Background(), f, jar, challenged.URL, http.MethodGet, nil, fetch.Options{})
	if err != nil {
		t.Fatalf("fetchMaybeChallenged: %v", err)
	}
	if solverCalls != 1 {
		t.Fatalf("solver calls = %d, want 1", solverCalls)
	}
	if string(resp.Body) != "<html>clear</html>" {
		t.Errorf("Body = %q, want the solver's solution response", resp.Body)
	}

	u, err := url.Parse(challenged.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	cookies := jar.Cookies(u)
	if len(cookies) != 1 || cookies[0].Value != "tok-123" {
		t.Errorf("jar cookies = %v, want [cf_clearance=tok-123]", cookies)
	}
}

func newTestResolver(t *testing.T) *Resolver {
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
	return New(f, prober, reg, nil, store)
}

func TestResolve_OpaqueCDNSeekableCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-1/12345")
		w.Header().Set("Content-Length", "2")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("hi"))
	}))
	defer srv.Close()

	r := newTestResolver(t)
	opaque := opaqueurl.Wrap("", "direct", srv.URL, model.Hints{})

	fs, err := r.Resolve(context.Background(), opaque)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !fs.Seekable {
		t.Error("expected Seekable final stream")
	}
	if fs.DirectURL != srv.URL {
		t.Errorf("DirectURL = %q, want %q", fs.DirectURL, srv.URL)
	}
}

func TestResolve_GoogleUserContentNeverReturned(t *testing.T) {
	r := newTestResolver(t)
	opaque := opaqueurl.Wrap("", "direct", "https://lh3.googleusercontent.com/fake", model.Hints{})

	if _, err := r.Resolve(context.Background(), opaque); err == nil {
		t.Error("expected resolve failure for a googleusercontent-only candidate set")
	}
}
