package cachefab

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hszk-dev/streamgw/internal/domain/model"
	"github.com/hszk-dev/streamgw/internal/domain/repository"
)

// memStore is an in-memory repository.PersistentStore for tests, avoiding a
// dependency on either real L2 backend.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) Close() error { return nil }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{L2: newMemStore(), L2Backend: "mem"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetOrCompute_CacheMissInvokesProducer(t *testing.T) {
	s := newTestStore(t)
	var calls atomic.Int32

	producer := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("fresh"), nil
	}

	got, err := s.GetOrCompute(context.Background(), "k", time.Minute, producer)
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if string(got) != "fresh" {
		t.Errorf("got %q, want fresh", got)
	}
	if calls.Load() != 1 {
		t.Errorf("producer called %d times, want 1", calls.Load())
	}

	got2, err := s.GetOrCompute(context.Background(), "k", time.Minute, producer)
	if err != nil {
		t.Fatalf("GetOrCompute (2nd): %v", err)
	}
	if string(got2) != "fresh" {
		t.Errorf("got2 %q, want fresh", got2)
	}
	if calls.Load() != 1 {
		t.Errorf("producer called %d times on cache hit, want still 1", calls.Load())
	}
}

func TestGetOrCompute_SingleflightCoalescesConcurrentMisses(t *testing.T) {
	s := newTestStore(t)
	var calls atomic.Int32
	release := make(chan struct{})

	producer := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("fresh"), nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([][]byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := s.GetOrCompute(context.Background(), "shared-key", time.Minute, producer)
			if err != nil {
				t.Errorf("GetOrCompute: %v", err)
				return
			}
			results[i] = got
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("producer called %d times, want exactly 1 for concurrent misses on the same key", calls.Load())
	}
	for i, r := range results {
		if string(r) != "fresh" {
			t.Errorf("results[%d] = %q, want fresh", i, r)
		}
	}
}

func TestGetOrCompute_NegativeResultCached(t *testing.T) {
	s := newTestStore(t)
	var calls atomic.Int32

	producer := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return nil, nil
	}

	got, err := s.GetOrCompute(context.Background(), "k", time.Minute, producer)
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil (negative result)", got)
	}

	if _, err := s.GetOrCompute(context.Background(), "k", time.Minute, producer); err != nil {
		t.Fatalf("GetOrCompute (2nd): %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("producer called %d times, want 1 (negative result should be cached)", calls.Load())
	}
}

func TestGetOrCompute_StaleReturnsImmediatelyAndRefreshesInBackground(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("stale"), time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	refreshed := make(chan struct{})
	producer := func(ctx context.Context) ([]byte, error) {
		close(refreshed)
		return []byte("new"), nil
	}

	got, err := s.GetOrCompute(ctx, "k", time.Minute, producer)
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if string(got) != "stale" {
		t.Errorf("got %q, want stale (should return immediately without waiting on refresh)", got)
	}

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("background refresh producer was never invoked")
	}
}

func TestMergeLinks_CarriesForwardStaleEntriesMissingFromFresh(t *testing.T) {
	stale := []model.ProviderLink{{Hash: "a"}, {Hash: "b"}}
	fresh := []model.ProviderLink{{Hash: "a"}, {Hash: "c"}}

	merged := MergeLinks(stale, fresh)

	want := map[string]bool{"a": true, "b": true, "c": true}
	if len(merged) != len(want) {
		t.Fatalf("merged = %v, want 3 entries", merged)
	}
	for _, m := range merged {
		if !want[m.Hash] {
			t.Errorf("unexpected entry %q in merged result", m.Hash)
		}
	}
}

func TestGetOrCompute_WithLinkMergeAppliesOnBackgroundRefresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale, err := EncodeLinks([]model.ProviderLink{{Hash: "a"}, {Hash: "b"}})
	if err != nil {
		t.Fatalf("EncodeLinks: %v", err)
	}
	if err := s.Set(ctx, "links", stale, time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})
	producer := func(ctx context.Context) ([]byte, error) {
		defer close(done)
		return EncodeLinks([]model.ProviderLink{{Hash: "a"}, {Hash: "c"}})
	}

	got, err := s.GetOrCompute(ctx, "links", time.Minute, producer, WithLinkMerge())
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	gotLinks, err := DecodeLinks(got)
	if err != nil {
		t.Fatalf("DecodeLinks: %v", err)
	}
	if len(gotLinks) != 2 {
		t.Fatalf("initial stale read = %v, want 2 entries", gotLinks)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("background refresh never completed")
	}
	time.Sleep(20 * time.Millisecond)

	refreshed, _, _, err := s.Get(ctx, "links")
	if err != nil {
		t.Fatalf("Get after refresh: %v", err)
	}
	mergedLinks, err := DecodeLinks(refreshed)
	if err != nil {
		t.Fatalf("DecodeLinks: %v", err)
	}
	if len(mergedLinks) != 3 {
		t.Errorf("merged links = %v, want 3 (a carried, b carried, c fresh)", mergedLinks)
	}
}
