package model

import "errors"

// PreviewStream is a discovery-phase link: cheap to produce, carries a
// stable opaque URL the player calls back into the resolver API with.
type PreviewStream struct {
	Provider        string
	OpaqueURL       string
	DisplayLabel    string
	ResolutionTag   Resolution
	SizeBytes       int64
	Languages       []string
	NeedsResolution bool
	// Hints is the opaque query string carried in OpaqueURL's hash fragment,
	// kept here too so callers that already have a PreviewStream don't need
	// to re-parse the URL.
	Hints Hints
}

// Hints carries enough state for the resolver to narrow its path without
// re-running discovery: episode reference, preferred resolution, preferred
// host.
type Hints struct {
	Season         int
	Episode        int
	Resolution     Resolution
	PreferredHost  string
}

var ErrFinalStreamNotSeekable = errors.New("final stream must be seekable unless host is trusted")

// FinalStream is a resolution-phase result. The constructor enforces the
// invariant that a FinalStream is never returned unseekable, except for
// explicitly trusted hosts (trustedHost is supplied by the caller, which
// already consulted the seekprobe trusted-host allowlist).
type FinalStream struct {
	DirectURL     string
	Seekable      bool
	Filename      string
	ContentLength int64
}

// NewFinalStream validates the seekability invariant before construction.
func NewFinalStream(directURL string, seekable, trustedHost bool, filename string, contentLength int64) (FinalStream, error) {
	if !seekable && !trustedHost {
		return FinalStream{}, ErrFinalStreamNotSeekable
	}
	return FinalStream{
		DirectURL:     directURL,
		Seekable:      seekable || trustedHost,
		Filename:      filename,
		ContentLength: contentLength,
	}, nil
}
