package pixeldrain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hszk-dev/streamgw/internal/domain/model"
	"github.com/hszk-dev/streamgw/internal/fetch"
)

func newTestExtractor(t *testing.T, apiBase string) *Extractor {
	t.Helper()
	f, err := fetch.New()
	if err != nil {
		t.Fatalf("fetch.New: %v", err)
	}
	if apiBase == "" {
		return New(f)
	}
	return NewWithAPIBase(f, apiBase)
}

func TestFileID_ParsesPageURL(t *testing.T) {
	id, err := fileID("https://pixeldrain.com/u/abc123")
	if err != nil {
		t.Fatalf("fileID: %v", err)
	}
	if id != "abc123" {
		t.Errorf("fileID = %q, want abc123", id)
	}
}

func TestFileID_RejectsUnrecognizedInput(t *testing.T) {
	if _, err := fileID("https://example.com/nope"); err == nil {
		t.Fatal("expected error for non-pixeldrain URL")
	}
}

func TestProcessExtractor_ResolvesDownloadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/abc123/info") {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"abc123","name":"movie.mkv","size":123456}`))
	}))
	defer srv.Close()

	e := newTestExtractor(t, srv.URL)
	links, err := e.ProcessExtractor(context.Background(), "https://pixeldrain.com/u/abc123", 7)
	if err != nil {
		t.Fatalf("ProcessExtractor: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("links = %v, want 1 entry", links)
	}
	l := links[0]
	if l.SizeBytes != 123456 {
		t.Errorf("SizeBytes = %d, want 123456", l.SizeBytes)
	}
	if l.Priority != 7 {
		t.Errorf("Priority = %d, want 7", l.Priority)
	}
	if l.Tier != model.HostTierCDNDirect {
		t.Errorf("Tier = %v, want HostTierCDNDirect", l.Tier)
	}
	if want := srv.URL + "/abc123?download"; l.URL != want {
		t.Errorf("URL = %q, want %q", l.URL, want)
	}
}

func TestSearch_Unsupported(t *testing.T) {
	e := newTestExtractor(t, "")
	results, err := e.Search(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Errorf("Search results = %v, want nil", results)
	}
}
