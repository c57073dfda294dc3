package extractor

import (
	"context"
	"testing"

	"github.com/hszk-dev/streamgw/internal/domain/model"
	"github.com/hszk-dev/streamgw/internal/domain/repository"
)

type stubExtractor struct{ id string }

func (s stubExtractor) ID() string { return s.id }
func (s stubExtractor) Search(ctx context.Context, query string) ([]repository.SearchResult, error) {
	return nil, nil
}
func (s stubExtractor) Load(ctx context.Context, url string) (repository.LoadResult, error) {
	return repository.LoadResult{}, nil
}
func (s stubExtractor) ProcessExtractor(ctx context.Context, url string, priority int) ([]model.ProviderLink, error) {
	return nil, nil
}

func TestRegistry_GetAndIDsPreserveOrder(t *testing.T) {
	r, err := New(stubExtractor{id: "pixeldrain"}, stubExtractor{id: "gofile"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	if got := r.IDs(); len(got) != 2 || got[0] != "pixeldrain" || got[1] != "gofile" {
		t.Errorf("IDs() = %v, want [pixeldrain gofile]", got)
	}

	e, ok := r.Get("pixeldrain")
	if !ok || e.ID() != "pixeldrain" {
		t.Errorf("Get(pixeldrain) = %v, %v", e, ok)
	}

	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) should return ok=false")
	}
}

func TestNew_DuplicateIDErrors(t *testing.T) {
	_, err := New(stubExtractor{id: "dup"}, stubExtractor{id: "dup"})
	if err == nil {
		t.Fatal("expected error for duplicate provider id")
	}
}
