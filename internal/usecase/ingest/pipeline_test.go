package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"feedsync/internal/domain/entity"
	"feedsync/internal/usecase/dedup"
	"feedsync/internal/usecase/ingest"
)

type fakeStore struct {
	mu       sync.Mutex
	existing map[string]bool
	inserts  []*entity.Article

	existsErr error
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{existing: make(map[string]bool)}
}

func (s *fakeStore) FetchSeenIdentifiers(_ context.Context, _ time.Time) ([]string, error) {
	return nil, nil
}

func (s *fakeStore) Exists(_ context.Context, identifier, derivedKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	return s.existing[identifier] || s.existing[derivedKey], nil
}

func (s *fakeStore) ExistsAnyOf(_ context.Context, identifiers []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]bool, len(identifiers))
	for _, id := range identifiers {
		result[id] = s.existing[id]
	}
	return result, nil
}

func (s *fakeStore) InsertAtomic(_ context.Context, article *entity.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserts = append(s.inserts, article)
	s.existing[article.Identifier] = true
	return nil
}

func (s *fakeStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserts)
}

type fakeFetcher struct {
	calls int64
	fn    func(ctx context.Context, identifier string) (*entity.Article, error)
}

func (f *fakeFetcher) FetchArticle(ctx context.Context, identifier string) (*entity.Article, error) {
	atomic.AddInt64(&f.calls, 1)
	return f.fn(ctx, identifier)
}

func (f *fakeFetcher) callCount() int64 {
	return atomic.LoadInt64(&f.calls)
}

func okFetcher() *fakeFetcher {
	return &fakeFetcher{fn: func(_ context.Context, identifier string) (*entity.Article, error) {
		return &entity.Article{
			Identifier: identifier,
			Title:      "title for " + identifier,
			Body:       "body for " + identifier,
		}, nil
	}}
}

func TestPipeline_Process_AllFresh(t *testing.T) {
	registry := dedup.NewRegistry(nil)
	store := newFakeStore()
	fetcher := okFetcher()
	p := ingest.NewPipeline(registry, store, fetcher, ingest.Config{}, nil)

	ids := []string{"https://feed.example/a", "https://feed.example/b", "https://feed.example/c"}
	counts := p.Process(context.Background(), ids)

	want := ingest.Counts{Success: 3}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
	if store.insertCount() != 3 {
		t.Fatalf("expected 3 inserts, got %d", store.insertCount())
	}
	if registry.ActiveClaims() != 0 {
		t.Fatalf("expected 0 active claims after batch, got %d", registry.ActiveClaims())
	}
	for _, id := range ids {
		if !registry.WasRecentlyCompleted(id) {
			t.Errorf("expected %q to be marked completed", id)
		}
	}
}

func TestPipeline_Process_SkipsStoredArticles(t *testing.T) {
	registry := dedup.NewRegistry(nil)
	store := newFakeStore()
	store.existing["https://feed.example/a"] = true
	fetcher := okFetcher()
	p := ingest.NewPipeline(registry, store, fetcher, ingest.Config{}, nil)

	counts := p.Process(context.Background(), []string{"https://feed.example/a", "https://feed.example/b"})

	want := ingest.Counts{Success: 1, Skipped: 1}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
	if fetcher.callCount() != 1 {
		t.Fatalf("expected 1 fetch, got %d", fetcher.callCount())
	}
	// A stored article is marked completed so later batches short-circuit
	// before even reaching the store.
	if !registry.WasRecentlyCompleted("https://feed.example/a") {
		t.Fatal("expected stored article to be marked completed")
	}
}

func TestPipeline_Process_SkipsLiveClaims(t *testing.T) {
	registry := dedup.NewRegistry(nil)
	registry.TryClaim("https://feed.example/a")
	defer registry.Release("https://feed.example/a")

	store := newFakeStore()
	fetcher := okFetcher()
	p := ingest.NewPipeline(registry, store, fetcher, ingest.Config{}, nil)

	counts := p.Process(context.Background(), []string{"https://feed.example/a"})

	want := ingest.Counts{Skipped: 1}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
	if fetcher.callCount() != 0 {
		t.Fatalf("expected no fetches for a claimed identifier, got %d", fetcher.callCount())
	}
}

func TestPipeline_Process_SkipsRecentCompletions(t *testing.T) {
	registry := dedup.NewRegistry(nil)
	registry.MarkCompleted("https://feed.example/a")

	store := newFakeStore()
	fetcher := okFetcher()
	p := ingest.NewPipeline(registry, store, fetcher, ingest.Config{}, nil)

	counts := p.Process(context.Background(), []string{"https://feed.example/a"})

	want := ingest.Counts{Skipped: 1}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
	if fetcher.callCount() != 0 {
		t.Fatalf("expected no fetches for a recent completion, got %d", fetcher.callCount())
	}
}

func TestPipeline_Process_FetchFailureLeavesIdentifierEligible(t *testing.T) {
	registry := dedup.NewRegistry(nil)
	store := newFakeStore()
	fetcher := &fakeFetcher{fn: func(_ context.Context, _ string) (*entity.Article, error) {
		return nil, fmt.Errorf("%w: payload endpoint unreachable", entity.ErrNetworkFailure)
	}}
	p := ingest.NewPipeline(registry, store, fetcher, ingest.Config{}, nil)

	counts := p.Process(context.Background(), []string{"https://feed.example/a"})

	want := ingest.Counts{Failure: 1}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
	// No completion mark: the next cycle must retry this identifier.
	if registry.WasRecentlyCompleted("https://feed.example/a") {
		t.Fatal("expected no completion mark after a failed fetch")
	}
	if registry.ActiveClaims() != 0 {
		t.Fatalf("expected claim released after failure, got %d active", registry.ActiveClaims())
	}
}

func TestPipeline_Process_InsertFailureCountsAsFailure(t *testing.T) {
	registry := dedup.NewRegistry(nil)
	store := newFakeStore()
	store.insertErr = errors.New("disk full")
	p := ingest.NewPipeline(registry, store, okFetcher(), ingest.Config{}, nil)

	counts := p.Process(context.Background(), []string{"https://feed.example/a"})

	want := ingest.Counts{Failure: 1}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
	if registry.WasRecentlyCompleted("https://feed.example/a") {
		t.Fatal("expected no completion mark after insert failure")
	}
}

// A slow payload is cut off by the per-item deadline and counted as a
// failure; the claim is released and the identifier stays eligible.
func TestPipeline_Process_ItemTimeout(t *testing.T) {
	registry := dedup.NewRegistry(nil)
	store := newFakeStore()
	fetcher := &fakeFetcher{fn: func(ctx context.Context, _ string) (*entity.Article, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: fetch: %v", entity.ErrNetworkTimeout, ctx.Err())
	}}
	p := ingest.NewPipeline(registry, store, fetcher, ingest.Config{ItemTimeout: 20 * time.Millisecond}, nil)

	done := make(chan ingest.Counts, 1)
	go func() {
		done <- p.Process(context.Background(), []string{"https://feed.example/slow"})
	}()

	select {
	case counts := <-done:
		want := ingest.Counts{Failure: 1}
		if diff := cmp.Diff(want, counts); diff != "" {
			t.Fatalf("counts mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not enforce the per-item deadline")
	}

	if registry.ActiveClaims() != 0 {
		t.Fatalf("expected claim released after timeout, got %d active", registry.ActiveClaims())
	}
	if registry.WasRecentlyCompleted("https://feed.example/slow") {
		t.Fatal("expected no completion mark after timeout")
	}
}

// When the batch context expires mid-run, items already dispatched finish
// but queued items are left unclaimed and uncounted.
func TestPipeline_Process_BatchCeiling(t *testing.T) {
	registry := dedup.NewRegistry(nil)
	store := newFakeStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fetched int64
	fetcher := &fakeFetcher{fn: func(_ context.Context, identifier string) (*entity.Article, error) {
		if atomic.AddInt64(&fetched, 1) == 2 {
			cancel()
		}
		return &entity.Article{Identifier: identifier, Title: "t", Body: "b"}, nil
	}}

	p := ingest.NewPipeline(registry, store, fetcher, ingest.Config{Parallelism: 1}, nil)

	ids := []string{
		"https://feed.example/1",
		"https://feed.example/2",
		"https://feed.example/3",
		"https://feed.example/4",
		"https://feed.example/5",
	}
	counts := p.Process(ctx, ids)

	if counts.Success != 2 {
		t.Fatalf("expected 2 successes before the ceiling, got %+v", counts)
	}
	if counts.Failure != 0 || counts.Skipped != 0 {
		t.Fatalf("expected undispatched items to go uncounted, got %+v", counts)
	}
	if fetcher.callCount() != 2 {
		t.Fatalf("expected 2 fetches, got %d", fetcher.callCount())
	}
	if registry.ActiveClaims() != 0 {
		t.Fatalf("expected 0 active claims after ceiling, got %d", registry.ActiveClaims())
	}
	// Unprocessed identifiers stay claimable for the next batch.
	for _, id := range ids[2:] {
		if !registry.TryClaim(id) {
			t.Errorf("expected %q to remain claimable", id)
		}
		registry.Release(id)
	}
}

// Processing the same batch twice inserts each article exactly once.
func TestPipeline_Process_Idempotent(t *testing.T) {
	registry := dedup.NewRegistry(nil)
	store := newFakeStore()
	fetcher := okFetcher()
	p := ingest.NewPipeline(registry, store, fetcher, ingest.Config{}, nil)

	ids := []string{"https://feed.example/a", "https://feed.example/b"}

	first := p.Process(context.Background(), ids)
	second := p.Process(context.Background(), ids)

	if first.Success != 2 {
		t.Fatalf("expected 2 successes on first pass, got %+v", first)
	}
	if second.Skipped != 2 || second.Success != 0 {
		t.Fatalf("expected 2 skips on second pass, got %+v", second)
	}
	if store.insertCount() != 2 {
		t.Fatalf("expected 2 inserts total, got %d", store.insertCount())
	}
}

func TestPipeline_Process_EmptyBatch(t *testing.T) {
	p := ingest.NewPipeline(dedup.NewRegistry(nil), newFakeStore(), okFetcher(), ingest.Config{}, nil)

	counts := p.Process(context.Background(), nil)

	if diff := cmp.Diff(ingest.Counts{}, counts); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeline_Process_BoundedParallelism(t *testing.T) {
	registry := dedup.NewRegistry(nil)
	store := newFakeStore()

	var inFlight, peak int64
	var mu sync.Mutex
	fetcher := &fakeFetcher{fn: func(_ context.Context, identifier string) (*entity.Article, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return &entity.Article{Identifier: identifier, Title: "t", Body: "b"}, nil
	}}

	p := ingest.NewPipeline(registry, store, fetcher, ingest.Config{Parallelism: 2}, nil)

	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("https://feed.example/%d", i)
	}
	counts := p.Process(context.Background(), ids)

	if counts.Success != 12 {
		t.Fatalf("expected 12 successes, got %+v", counts)
	}
	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent fetches, observed %d", peak)
	}
}
