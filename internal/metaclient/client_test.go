package metaclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hszk-dev/streamgw/internal/cachefab"
	"github.com/hszk-dev/streamgw/internal/domain/model"
	"github.com/hszk-dev/streamgw/internal/fetch"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	f, err := fetch.New()
	if err != nil {
		t.Fatalf("fetch.New: %v", err)
	}
	store, err := cachefab.New(cachefab.Config{})
	if err != nil {
		t.Fatalf("cachefab.New: %v", err)
	}
	return NewClient(DefaultClientConfig(baseURL), f, store)
}

func testKey(t *testing.T) model.MediaKey {
	t.Helper()
	key, err := model.NewMediaKey(model.KindMovie, "tt0133093", 0, 0)
	if err != nil {
		t.Fatalf("NewMediaKey: %v", err)
	}
	return key
}

func TestGetMetadata_ParsesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/meta/movie/tt0133093" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"meta":{"name":"The Matrix","year":1999,"originalTitle":"The Matrix","alternativeTitles":["Matrix"]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	meta, err := c.GetMetadata(context.Background(), testKey(t))
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.Name != "The Matrix" || meta.Year != 1999 {
		t.Errorf("meta = %+v, want name=The Matrix year=1999", meta)
	}
}

func TestGetMetadata_CachesAcrossCalls(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"meta":{"name":"Cached","year":2000}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	key := testKey(t)

	if _, err := c.GetMetadata(context.Background(), key); err != nil {
		t.Fatalf("GetMetadata (1st): %v", err)
	}
	if _, err := c.GetMetadata(context.Background(), key); err != nil {
		t.Fatalf("GetMetadata (2nd): %v", err)
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (second call should be served from cache)", calls)
	}
}

func TestGetMetadata_EmptyNameIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"meta":{"name":"","year":0}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.GetMetadata(context.Background(), testKey(t)); err == nil {
		t.Error("expected error for metadata with no name")
	}
}

func TestGetMetadata_UpstreamErrorStatusPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.GetMetadata(context.Background(), testKey(t)); err == nil {
		t.Error("expected error for a 404 upstream response")
	}
}
