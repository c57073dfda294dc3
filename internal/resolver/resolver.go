// Package resolver implements C6: turning an opaque player-facing URL back
// into a seekable direct stream by walking a short chain of host-specific
// hops (shortener form dance, wrapper decode, provider extractor) and
// probing the candidates it collects for range-request seekability.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hszk-dev/streamgw/internal/cachefab"
	"github.com/hszk-dev/streamgw/internal/cfsolver"
	"github.com/hszk-dev/streamgw/internal/domain/model"
	"github.com/hszk-dev/streamgw/internal/extractor"
	"github.com/hszk-dev/streamgw/internal/fetch"
	"github.com/hszk-dev/streamgw/internal/metrics"
	"github.com/hszk-dev/streamgw/internal/opaqueurl"
	"github.com/hszk-dev/streamgw/internal/seekprobe"
)

// state is the FSM's closed set of steps.
type state int

const (
	stateClassifyInput state = iota
	stateResolveShort
	stateResolveInter
	stateExtractHost
	stateSelectBestCandidate
	stateSeekProbeBatch
	stateReturn
	stateFail
)

func (s state) String() string {
	switch s {
	case stateClassifyInput:
		return "CLASSIFY_INPUT"
	case stateResolveShort:
		return "RESOLVE_SHORT"
	case stateResolveInter:
		return "RESOLVE_INTER"
	case stateExtractHost:
		return "EXTRACT_HOST"
	case stateSelectBestCandidate:
		return "SELECT_BEST_CANDIDATE"
	case stateSeekProbeBatch:
		return "SEEK_PROBE_BATCH"
	case stateReturn:
		return "RETURN"
	case stateFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrLoopDetected = errors.New("resolver: loop detected")
	ErrDead         = errors.New("resolver: no seekable candidate found")
	ErrTooManyHops  = errors.New("resolver: exceeded maximum hop count")
)

const (
	maxFormHops          = 4  // per-stage cap on resolveShort's form-follow chain
	maxLoopHops          = 16 // absolute cap across the whole FSM, independent of per-stage caps
	seekProbeParallelism = 2
	resolveTTL           = 10 * time.Minute
)

// hopKey identifies one HTTP hop for loop detection.
type hopKey struct {
	method string
	url    string
	body   string
}

// resolveContext is the FSM's state, replaced wholesale on each transition
// rather than mutated in place.
type resolveContext struct {
	origURL string
	tag     string
	hints   model.Hints

	cookieJar http.CookieJar
	hopCount  int
	visited   map[hopKey]struct{}

	candidates []model.ProviderLink
	result     *model.FinalStream
}

func newResolveContext(origURL, tag string, hints model.Hints) resolveContext {
	jar, _ := cookiejar.New(nil)
	return resolveContext{
		origURL:   origURL,
		tag:       tag,
		hints:     hints,
		cookieJar: jar,
		visited:   make(map[hopKey]struct{}),
	}
}

// withHop returns a copy of rc with the given hop recorded, failing if the
// hop has been seen before (loop) or the absolute hop budget is exhausted.
func (rc resolveContext) withHop(method, hopURL, body string) (resolveContext, error) {
	if rc.hopCount >= maxLoopHops {
		return rc, ErrTooManyHops
	}
	k := hopKey{method: method, url: hopURL, body: body}
	if _, seen := rc.visited[k]; seen {
		return rc, ErrLoopDetected
	}
	next := make(map[hopKey]struct{}, len(rc.visited)+1)
	for existing := range rc.visited {
		next[existing] = struct{}{}
	}
	next[k] = struct{}{}
	rc.visited = next
	rc.hopCount++
	return rc, nil
}

// hostProviderID maps a host-page host to its registered Extractor ID.
var hostProviderID = map[string]string{
	"pixeldrain.com": "pixeldrain",
	"gofile.io":      "gofile",
}

// Resolver implements the link-chain resolution state machine.
type Resolver struct {
	fetcher  *fetch.Fetcher
	prober   *seekprobe.Prober
	registry *extractor.Registry
	solver   *cfsolver.Client
	store    *cachefab.Store
}

// New builds a Resolver from its collaborators.
func New(fetcher *fetch.Fetcher, prober *seekprobe.Prober, registry *extractor.Registry, solver *cfsolver.Client, store *cachefab.Store) *Resolver {
	return &Resolver{fetcher: fetcher, prober: prober, registry: registry, solver: solver, store: store}
}

// Resolve turns an opaque URL into a FinalStream. Concurrent calls for the
// same opaque URL coalesce through the cache fabric's single-flight, and a
// successful result is cached for resolveTTL.
func (r *Resolver) Resolve(ctx context.Context, opaqueURL string) (*model.FinalStream, error) {
	key := "resolve:" + sha256Hex(opaqueURL)

	raw, err := r.store.GetOrCompute(ctx, key, resolveTTL, func(ctx context.Context) ([]byte, error) {
		fs, err := r.resolveUncached(ctx, opaqueURL)
		if err != nil {
			recordResolveOutcome(err)
			return nil, err
		}
		recordResolveOutcome(nil)
		return encodeFinalStream(*fs)
	})
	if err != nil {
		return nil, err
	}

	fs, err := decodeFinalStream(raw)
	if err != nil {
		return nil, err
	}
	return &fs, nil
}

func recordResolveOutcome(err error) {
	switch {
	case err == nil:
		metrics.ResolveAttemptsTotal.WithLabelValues(metrics.ResolveOutcomeResolved).Inc()
	case errors.Is(err, ErrLoopDetected):
		metrics.ResolveAttemptsTotal.WithLabelValues(metrics.ResolveOutcomeLoopDetected).Inc()
	case errors.Is(err, ErrDead):
		metrics.ResolveAttemptsTotal.WithLabelValues(metrics.ResolveOutcomeDead).Inc()
	case errors.Is(err, model.ErrFinalStreamNotSeekable):
		metrics.ResolveAttemptsTotal.WithLabelValues(metrics.ResolveOutcomeNonSeekable).Inc()
	default:
		metrics.ResolveAttemptsTotal.WithLabelValues(metrics.ResolveOutcomeError).Inc()
	}
}

func (r *Resolver) resolveUncached(ctx context.Context, opaqueURL string) (*model.FinalStream, error) {
	origURL, tag, hints, err := opaqueurl.Unwrap(opaqueURL)
	if err != nil {
		return nil, err
	}

	rc := newResolveContext(origURL, tag, hints)
	st := stateClassifyInput

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var handlerErr error
		switch st {
		case stateClassifyInput:
			st, rc, handlerErr = r.classifyInput(ctx, rc)
		case stateResolveShort:
			st, rc, handlerErr = r.resolveShort(ctx, rc)
		case stateResolveInter:
			st, rc, handlerErr = r.resolveIntermediary(ctx, rc)
		case stateExtractHost:
			st, rc, handlerErr = r.extractHost(ctx, rc)
		case stateSelectBestCandidate:
			st, rc, handlerErr = r.selectBestCandidate(ctx, rc)
		case stateSeekProbeBatch:
			st, rc, handlerErr = r.seekProbeBatch(ctx, rc)
		case stateReturn:
			if rc.result == nil {
				return nil, ErrDead
			}
			return rc.result, nil
		case stateFail:
			if handlerErr == nil {
				handlerErr = ErrDead
			}
			return nil, handlerErr
		default:
			return nil, fmt.Errorf("resolver: unknown state %v", st)
		}

		if handlerErr != nil {
			return nil, handlerErr
		}
	}
}

// classifyInput inspects the origin URL's host and routes to the
// appropriate resolution branch. The opaque-CDN branch (no further hop
// needed) seeds the candidate list with the origin URL itself and defers
// straight to ranking/probing.
func (r *Resolver) classifyInput(_ context.Context, rc resolveContext) (state, resolveContext, error) {
	switch classifyInput(rc.origURL) {
	case classHostPage:
		return stateExtractHost, rc, nil
	case classShortener:
		return stateResolveShort, rc, nil
	case classIntermediary:
		return stateResolveInter, rc, nil
	default: // classOpaqueCDN
		rc.candidates = []model.ProviderLink{{URL: rc.origURL, Tier: model.HostTierUnknown}}
		return stateSelectBestCandidate, rc, nil
	}
}

// resolveShort performs the short-link "click to continue" form dance:
// fetch, find the primary form, collect hidden inputs, submit, follow up to
// maxFormHops redirects, merging cookies at each hop.
func (r *Resolver) resolveShort(ctx context.Context, rc resolveContext) (state, resolveContext, error) {
	fetcher := fetch.NewWithCookieJar(rc.cookieJar)
	currentURL := rc.origURL

	for hop := 0; hop < maxFormHops; hop++ {
		rc2, err := rc.withHop(http.MethodGet, currentURL, "")
		if err != nil {
			return stateFail, rc, err
		}
		rc = rc2

		resp, err := r.fetchMaybeChallenged(ctx, fetcher, rc.cookieJar, currentURL, http.MethodGet, nil, fetch.Options{FollowRedirects: true})
		if err != nil {
			return stateFail, rc, err
		}

		doc, err := resp.Document()
		if err != nil {
			return stateFail, rc, fmt.Errorf("resolver: parse short-link page: %w", err)
		}

		form := doc.FindFirst("form")
		if form == nil {
			// No further form: the page itself (after redirects) is the
			// destination candidate.
			rc.candidates = []model.ProviderLink{{URL: resp.FinalURL, Tier: model.HostTierUnknown}}
			return stateSelectBestCandidate, rc, nil
		}

		action, _ := fetch.Attr(form, "action")
		method, _ := fetch.Attr(form, "method")
		inputs := fetch.FormInputs(form)

		target := resolveRelative(resp.FinalURL, action)
		var nextURL string
		var body []byte
		if strings.EqualFold(method, "post") {
			nextURL = target
			body = []byte(encodeFormValues(inputs))
		} else {
			nextURL = target + queryFromValues(inputs)
		}

		rc3, err := rc.withHop(strings.ToUpper(defaultString(method, "get")), nextURL, string(body))
		if err != nil {
			return stateFail, rc, err
		}
		rc = rc3

		var opts fetch.Options
		if strings.EqualFold(method, "post") {
			opts = fetch.Options{
				Method:          http.MethodPost,
				Headers:         http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}},
				Body:            body,
				FollowRedirects: true,
			}
		} else {
			opts = fetch.Options{Method: http.MethodGet, FollowRedirects: true}
		}

		resp2, err := r.fetchMaybeChallenged(ctx, fetcher, rc.cookieJar, nextURL, strings.ToUpper(defaultString(method, "get")), body, opts)
		if err != nil {
			return stateFail, rc, err
		}
		currentURL = resp2.FinalURL
	}

	rc.candidates = []model.ProviderLink{{URL: currentURL, Tier: model.HostTierUnknown}}
	return stateSelectBestCandidate, rc, nil
}

// resolveIntermediary resolves one wrapper-site hop: an AES-GCM encrypted
// payload if the page carries one, otherwise the same form dance as
// resolveShort (many wrapper sites gate behind an identical confirm form).
func (r *Resolver) resolveIntermediary(ctx context.Context, rc resolveContext) (state, resolveContext, error) {
	rc2, err := rc.withHop(http.MethodGet, rc.origURL, "")
	if err != nil {
		return stateFail, rc, err
	}
	beforeHop := rc
	rc = rc2

	fetcher := fetch.NewWithCookieJar(rc.cookieJar)
	resp, err := r.fetchMaybeChallenged(ctx, fetcher, rc.cookieJar, rc.origURL, http.MethodGet, nil, fetch.Options{FollowRedirects: true})
	if err != nil {
		return stateFail, rc, err
	}

	doc, err := resp.Document()
	if err != nil {
		return stateFail, rc, fmt.Errorf("resolver: parse intermediary page: %w", err)
	}

	if form := doc.FindFirst("form"); form != nil {
		inputs := fetch.FormInputs(form)
		keyB64, hasKey := inputs["enc-key"]
		ivB64, hasIV := inputs["enc-iv"]
		dataB64, hasData := inputs["enc-data"]
		if hasKey && hasIV && hasData {
			if plain, err := decryptAESGCMPayload(keyB64, ivB64, dataB64); err == nil {
				rc.candidates = []model.ProviderLink{{URL: string(plain), Tier: hostTierForIntermediary(rc.origURL)}}
				return stateSelectBestCandidate, rc, nil
			}
		}
	}

	// No encrypted payload found: fall back to the generic confirm-form dance.
	// resolveShort records its own GET of the origin URL, so it starts from
	// the context as it was before this stage's hop (the cookie jar is shared).
	return r.resolveShort(ctx, beforeHop)
}

func hostTierForIntermediary(rawURL string) model.HostTier {
	if _, ok := intermediaryRank(rawURL); ok {
		return model.HostTierWrapperWithDirect
	}
	return model.HostTierWrapperSolveRequired
}

// extractHost resolves a provider-native host page via its registered
// Extractor.
func (r *Resolver) extractHost(ctx context.Context, rc resolveContext) (state, resolveContext, error) {
	host := hostOf(rc.origURL)
	id, ok := hostProviderID[host]
	if !ok {
		return stateFail, rc, fmt.Errorf("resolver: no extractor registered for host %q", host)
	}

	ext, ok := r.registry.Get(id)
	if !ok {
		return stateFail, rc, fmt.Errorf("resolver: extractor %q not registered", id)
	}

	start := time.Now()
	loadResult, err := ext.Load(ctx, rc.origURL)
	recordExtractorCall(id, "load", time.Since(start), err)
	if err != nil {
		return stateFail, rc, err
	}
	if len(loadResult.Links) == 0 {
		return stateFail, rc, fmt.Errorf("resolver: extractor %q returned no links", id)
	}

	rc.candidates = loadResult.Links
	return stateSelectBestCandidate, rc, nil
}

func recordExtractorCall(provider, operation string, elapsed time.Duration, err error) {
	status := metrics.CacheStatusSuccess
	if err != nil {
		status = metrics.CacheStatusError
	}
	metrics.ExtractorRequestsTotal.WithLabelValues(provider, operation, status).Inc()
	metrics.ExtractorLatencySeconds.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
}

// selectBestCandidate filters candidates that must never be returned
// (googleusercontent.com, unconditionally, per spec) and ranks the rest.
func (r *Resolver) selectBestCandidate(_ context.Context, rc resolveContext) (state, resolveContext, error) {
	filtered := make([]model.ProviderLink, 0, len(rc.candidates))
	for _, c := range rc.candidates {
		if isGoogleUserContent(c.URL) {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		return stateFail, rc, ErrDead
	}

	rc.candidates = rankCandidates(filtered, rc.hints)
	return stateSeekProbeBatch, rc, nil
}

// seekProbeBatch probes ranked candidates in bounded-parallelism batches,
// returning the first Seekable result. googleusercontent is re-filtered
// here too, in depth, since the invariant is absolute regardless of how a
// candidate entered the list.
func (r *Resolver) seekProbeBatch(ctx context.Context, rc resolveContext) (state, resolveContext, error) {
	candidates := rc.candidates

	for start := 0; start < len(candidates); start += seekProbeParallelism {
		end := start + seekProbeParallelism
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]
		results := make([]seekprobe.Result, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(seekProbeParallelism)
		for i, cand := range batch {
			i, cand := i, cand
			g.Go(func() error {
				if isGoogleUserContent(cand.URL) {
					results[i] = seekprobe.Result{Classification: seekprobe.NonVideo}
					return nil
				}
				res, err := r.prober.Probe(gctx, cand.URL, hostOf(cand.URL), seekprobe.Options{})
				if err != nil {
					results[i] = seekprobe.Result{Classification: seekprobe.Invalid}
					return nil
				}
				results[i] = res
				return nil
			})
		}
		_ = g.Wait()

		for i, res := range results {
			if res.Classification != seekprobe.Seekable {
				continue
			}
			if isGoogleUserContent(batch[i].URL) {
				continue
			}
			trusted := r.prober.IsTrustedHost(hostOf(batch[i].URL))
			fs, err := model.NewFinalStream(batch[i].URL, true, trusted, res.Filename, res.ContentLength)
			if err != nil {
				continue
			}
			rc.result = &fs
			return stateReturn, rc, nil
		}
	}

	return stateFail, rc, ErrDead
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func encodeFinalStream(fs model.FinalStream) ([]byte, error) {
	return json.Marshal(fs)
}

func decodeFinalStream(raw []byte) (model.FinalStream, error) {
	var fs model.FinalStream
	if err := json.Unmarshal(raw, &fs); err != nil {
		return model.FinalStream{}, fmt.Errorf("resolver: decode cached final stream: %w", err)
	}
	return fs, nil
}

func resolveRelative(base, ref string) string {
	if ref == "" {
		return base
	}
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

func encodeFormValues(values map[string]string) string {
	v := url.Values{}
	for k, val := range values {
		v.Set(k, val)
	}
	return v.Encode()
}

func queryFromValues(values map[string]string) string {
	encoded := encodeFormValues(values)
	if encoded == "" {
		return ""
	}
	return "?" + encoded
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// challengeMarkers are the marker strings spec.md §4.4 uses to recognize a
// Cloudflare-style interstitial in a 403/5xx response body.
var challengeMarkers = []string{"cf-mitigated", "cf-chl-bypass", "just a moment", "checking your browser", "cloudflare"}

func isChallenge(resp *fetch.Response) bool {
	if resp.Status != http.StatusForbidden && resp.Status < http.StatusInternalServerError {
		return false
	}
	body := strings.ToLower(string(resp.Body))
	for _, marker := range challengeMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// fetchMaybeChallenged performs a normal fetch and escalates to CfSolver
// only if the response looks like a Cloudflare interstitial, per spec.md
// §4.4's "callers invoke C4 only after observing a challenge signature ...
// C4 is not the default fetch path because each solve is expensive." A
// solved clearance cookie is merged into jar so later hops on the same
// chain skip the solver entirely.
func (r *Resolver) fetchMaybeChallenged(ctx context.Context, fetcher *fetch.Fetcher, jar http.CookieJar, rawURL, method string, body []byte, opts fetch.Options) (*fetch.Response, error) {
	resp, err := fetcher.Fetch(ctx, rawURL, opts)
	if err != nil || r.solver == nil || !isChallenge(resp) {
		return resp, err
	}

	result, solveErr := r.solver.Solve(ctx, hostOf(rawURL), rawURL, method, string(body))
	if solveErr != nil {
		return resp, err
	}

	if u, perr := url.Parse(rawURL); perr == nil {
		cookies := make([]*http.Cookie, 0, len(result.Solution.Cookies))
		for _, ck := range result.Solution.Cookies {
			cookies = append(cookies, &http.Cookie{Name: ck.Name, Value: ck.Value, Domain: ck.Domain, Path: ck.Path})
		}
		jar.SetCookies(u, cookies)
	}

	return &fetch.Response{
		Status:   result.Solution.Status,
		Body:     []byte(result.Solution.Response),
		FinalURL: defaultString(result.Solution.URL, rawURL),
	}, nil
}
