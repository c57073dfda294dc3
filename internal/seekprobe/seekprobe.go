// Package seekprobe implements C2: probing a candidate URL with a ranged
// request and classifying its seekability.
package seekprobe

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hszk-dev/streamgw/internal/fetch"
)

// Classification is a closed enum for the outcome of Probe.
type Classification string

const (
	Seekable        Classification = "seekable"
	OkButUnseekable Classification = "ok-but-unseekable"
	NonVideo        Classification = "non-video"
	Invalid         Classification = "invalid"
)

// archiveExtensions are non-video signatures that, per spec 4.2 and the
// ZIP-on-trusted-host open question in spec 9, always win over a trusted
// host's skip-probe shortcut.
var archiveExtensions = []string{".zip", ".rar", ".7z", ".iso", ".tar", ".gz"}

// Result is the outcome of a single probe.
type Result struct {
	Classification Classification
	Filename       string
	ContentLength  int64
	StatusCode     int
}

// Options configures a Probe call.
type Options struct {
	RequirePartialContent bool
	Timeout               time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 8 * time.Second
	}
	return o
}

// Prober probes candidate URLs for seekability.
type Prober struct {
	fetcher       *fetch.Fetcher
	trustedHosts  []string
}

// New creates a Prober. trustedHosts is a list of hostname suffixes (e.g.
// "workers.dev") whose ranged-response behavior is assumed-good. Probe still
// issues its ranged GET for these hosts so the non-video classifier can run
// on the response: a trusted host is Seekable without a 206 range response,
// and also when the request itself fails, unless the response is classified
// NonVideo by filename/content-type.
func New(fetcher *fetch.Fetcher, trustedHosts []string) *Prober {
	return &Prober{fetcher: fetcher, trustedHosts: trustedHosts}
}

// IsTrustedHost reports whether host matches a trusted-host suffix.
func (p *Prober) IsTrustedHost(host string) bool {
	host = strings.ToLower(host)
	for _, suffix := range p.trustedHosts {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Probe issues a ranged GET (bytes=0-1) against url and classifies the
// response. Filename/content-disposition based non-video detection always
// takes precedence over the trusted-host shortcut.
func (p *Prober) Probe(ctx context.Context, url string, host string, opts Options) (Result, error) {
	opts = opts.withDefaults()

	trusted := p.IsTrustedHost(host)

	resp, err := p.fetcher.Fetch(ctx, url, fetch.Options{
		Method:          http.MethodGet,
		Headers:         http.Header{"Range": []string{"bytes=0-1"}},
		FollowRedirects: true,
		Timeout:         opts.Timeout,
		MaxBodyBytes:    4096,
	})
	if err != nil {
		if trusted {
			return Result{Classification: Seekable}, nil
		}
		return Result{Classification: Invalid}, err
	}

	filename := fetch.ContentDispositionFilename(resp.Headers)
	contentType := resp.Headers.Get("Content-Type")
	if isNonVideo(filename, contentType) {
		return Result{
			Classification: NonVideo,
			Filename:       filename,
			StatusCode:     resp.Status,
		}, nil
	}

	if trusted {
		return Result{
			Classification: Seekable,
			Filename:       filename,
			ContentLength:  fetch.ContentLengthHeader(resp.Headers),
			StatusCode:     resp.Status,
		}, nil
	}

	contentLength := parseContentRangeTotal(resp.Headers.Get("Content-Range"))
	if contentLength == 0 {
		contentLength = fetch.ContentLengthHeader(resp.Headers)
	}

	switch {
	case resp.Status == http.StatusPartialContent && resp.Headers.Get("Content-Range") != "" && contentLength >= 2:
		return Result{
			Classification: Seekable,
			Filename:       filename,
			ContentLength:  contentLength,
			StatusCode:     resp.Status,
		}, nil
	case resp.Status == http.StatusOK:
		return Result{
			Classification: OkButUnseekable,
			Filename:       filename,
			ContentLength:  contentLength,
			StatusCode:     resp.Status,
		}, nil
	default:
		return Result{Classification: Invalid, StatusCode: resp.Status}, nil
	}
}

func isNonVideo(filename, contentType string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	ct := strings.ToLower(contentType)
	switch ct {
	case "application/zip", "application/x-rar-compressed", "application/x-7z-compressed", "application/x-iso9660-image":
		return true
	}
	return false
}

// parseContentRangeTotal parses the "total" component of a Content-Range
// header value like "bytes 0-1/12345".
func parseContentRangeTotal(headerValue string) int64 {
	idx := strings.LastIndex(headerValue, "/")
	if idx < 0 || idx == len(headerValue)-1 {
		return 0
	}
	total := headerValue[idx+1:]
	if total == "*" {
		return 0
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
