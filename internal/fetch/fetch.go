// Package fetch implements C1: bounded, retried HTTP with a size cap,
// cancellation, cookie jar, proxy selection and optional lazy HTML parsing.
// It is the single point of outbound HTTP for every other component.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxBodyBytes = 2 << 20 // 2 MiB
	DefaultTimeout      = 8 * time.Second
	DefaultRetries      = 1
	DefaultRetryBackoff = 800 * time.Millisecond
	DefaultMaxRedirects = 5
)

// ProxySelector picks a proxy URL for a request, or returns (nil, nil) to go
// direct.
type ProxySelector func(*http.Request) (*url.URL, error)

// Options configures a single Fetch call.
type Options struct {
	Method          string
	Headers         http.Header
	Body            []byte
	FollowRedirects bool
	MaxRedirects    int
	ParseHTML       bool
	MaxBodyBytes    int64
	Timeout         time.Duration
	Retries         int
	RetryBackoff    time.Duration
	ProxySelector   ProxySelector
}

func (o Options) withDefaults() Options {
	if o.Method == "" {
		o.Method = http.MethodGet
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	// Zero Retries means DefaultRetries; a negative value disables retries.
	if o.Retries == 0 {
		o.Retries = DefaultRetries
	} else if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = DefaultMaxRedirects
	}
	return o
}

// Response is the result of a Fetch call.
type Response struct {
	Status   int
	Headers  http.Header
	Body     []byte
	FinalURL string

	doc     *htmlDocument
	docErr  error
	docOnce bool
}

// Fetcher performs bounded, retried HTTP fetches sharing one cookie jar
// across calls, matching a single resolution session's cookie state.
type Fetcher struct {
	client *http.Client
	tracer trace.Tracer
}

// New creates a Fetcher with its own cookie jar and an OTel-instrumented
// transport.
func New() (*Fetcher, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: create cookie jar: %w", err)
	}
	return &Fetcher{
		client: &http.Client{
			Jar:       jar,
			Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone()),
		},
		tracer: otel.Tracer("streamgw/fetch"),
	}, nil
}

// NewWithCookieJar wires an explicit cookie jar, used by the resolver to
// restore a prior session's cookies before continuing a hop chain.
func NewWithCookieJar(jar http.CookieJar) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Jar:       jar,
			Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone()),
		},
		tracer: otel.Tracer("streamgw/fetch"),
	}
}

// CookieJar exposes the shared jar so callers can persist/restore it.
func (f *Fetcher) CookieJar() http.CookieJar { return f.client.Jar }

// Fetch performs one bounded, retried HTTP request.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	opts = opts.withDefaults()

	ctx, span := f.tracer.Start(ctx, "fetch.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("http.url", rawURL))

	client := f.buildClient(opts)

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			backoff := opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, classifyContextErr(ctx.Err())
			case <-time.After(backoff):
			}
		}

		resp, err := f.doOnce(ctx, client, rawURL, opts)
		if err == nil {
			span.SetAttributes(
				attribute.Int("http.status_code", resp.Status),
				attribute.Int("fetch.retry_count", attempt),
				attribute.Int("fetch.bytes_read", len(resp.Body)),
			)
			return resp, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (f *Fetcher) buildClient(opts Options) *http.Client {
	client := *f.client
	client.Timeout = opts.Timeout

	transport := client.Transport
	if opts.ProxySelector != nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.Proxy = func(r *http.Request) (*url.URL, error) { return opts.ProxySelector(r) }
		transport = otelhttp.NewTransport(base)
	}
	client.Transport = transport

	if !opts.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else {
		maxRedirects := opts.MaxRedirects
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return ErrTooManyRedirects
			}
			return nil
		}
	}

	return &client
}

func (f *Fetcher) doOnce(ctx context.Context, client *http.Client, rawURL string, opts Options) (*Response, error) {
	var bodyReader io.Reader
	if len(opts.Body) > 0 {
		bodyReader = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, rawURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	for k, vs := range opts.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, classifyContextErr(err)
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			if netErr.Timeout() {
				return nil, ErrTimeout
			}
			return nil, &NetworkError{Op: "do", Err: err}
		}
		return nil, &NetworkError{Op: "do", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if cl := resp.ContentLength; cl > opts.MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}

	body, err := readCapped(resp.Body, opts.MaxBodyBytes)
	if err != nil {
		return nil, err
	}

	out := &Response{
		Status:   resp.StatusCode,
		Headers:  resp.Header,
		Body:     body,
		FinalURL: resp.Request.URL.String(),
	}
	return out, nil
}

// readCapped reads at most maxBytes+1 bytes to detect an overflow without
// buffering the whole oversized body; it destroys the connection (via the
// caller's deferred Close) the instant the cap is crossed.
func readCapped(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return nil, &NetworkError{Op: "read body", Err: err}
	}
	if int64(len(buf)) > maxBytes {
		return nil, ErrBodyTooLarge
	}
	return buf, nil
}

func classifyContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrCanceled
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrCanceled) {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// ContentDispositionFilename extracts the filename parameter from a
// Content-Disposition header value, if present.
func ContentDispositionFilename(header http.Header) string {
	_, params, err := parseContentDisposition(header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["filename"]
}

// ContentLengthHeader parses the Content-Length header into an int64,
// returning 0 if absent or malformed.
func ContentLengthHeader(header http.Header) int64 {
	v := header.Get("Content-Length")
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
