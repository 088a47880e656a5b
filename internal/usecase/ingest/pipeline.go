// Package ingest implements the article ingestion pipeline: for each unseen
// identifier it fetches the payload, parses it and inserts the record into
// the article store, guarded at every step by the deduplication registry.
package ingest

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"feedsync/internal/domain/entity"
	"feedsync/internal/observability/metrics"
	"feedsync/internal/pkg/identity"
	"feedsync/internal/repository"
	"feedsync/internal/usecase/dedup"
)

// DefaultParallelism bounds concurrent payload fetches. Fan-out is always
// bounded; an unseen batch never produces unbounded parallel requests.
const DefaultParallelism = 4

// PayloadFetcher retrieves and parses one article payload.
type PayloadFetcher interface {
	FetchArticle(ctx context.Context, identifier string) (*entity.Article, error)
}

// Counts summarizes one Process invocation. Identifiers left undispatched by
// a batch ceiling appear in no bucket; they were never claimed and remain
// eligible for the next run.
type Counts struct {
	Success int64
	Failure int64
	Skipped int64
}

// Pipeline processes unseen identifiers with bounded concurrency and
// per-item timeouts. One bad item never aborts the batch.
type Pipeline struct {
	registry *dedup.Registry
	store    repository.ArticleStore
	fetcher  PayloadFetcher

	parallelism int
	itemTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// Config holds pipeline tuning.
type Config struct {
	// Parallelism bounds concurrent item workers. Zero means the default.
	Parallelism int

	// ItemTimeout bounds a single item's fetch. Zero means 30 seconds.
	ItemTimeout time.Duration
}

// NewPipeline creates a pipeline.
func NewPipeline(registry *dedup.Registry, store repository.ArticleStore, fetcher PayloadFetcher, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry:    registry,
		store:       store,
		fetcher:     fetcher,
		parallelism: cfg.Parallelism,
		itemTimeout: cfg.ItemTimeout,
		now:         time.Now,
		logger:      logger,
	}
}

// Process ingests the given identifiers and returns per-item counts.
//
// The ceiling check happens between items: once ctx is done, no further
// identifiers are dispatched or claimed, the accumulated counts are
// returned, and the remaining identifiers stay untouched for a future run.
// An item already in flight finishes its critical section; its claim is
// released on every exit path.
func (p *Pipeline) Process(ctx context.Context, ids []string) Counts {
	start := p.now()
	var counts Counts

	sem := make(chan struct{}, p.parallelism)
	eg := &errgroup.Group{}

	for _, identifier := range ids {
		// Batch ceiling: stop pulling new items, never interrupt a claim.
		if ctx.Err() != nil {
			break
		}
		id := identifier

		eg.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return nil
			}
			// Re-check after waiting on the semaphore: an expired batch
			// leaves queued items unclaimed instead of claiming them into
			// a dead context.
			if ctx.Err() != nil {
				return nil
			}
			p.processOne(ctx, id, &counts)
			return nil
		})
	}

	_ = eg.Wait()

	metrics.RecordPipelineBatch(time.Since(start))
	p.logger.Info("ingestion batch completed",
		slog.Int("batch", len(ids)),
		slog.Int64("success", atomic.LoadInt64(&counts.Success)),
		slog.Int64("failure", atomic.LoadInt64(&counts.Failure)),
		slog.Int64("skipped", atomic.LoadInt64(&counts.Skipped)),
		slog.Duration("duration", time.Since(start)))

	return Counts{
		Success: atomic.LoadInt64(&counts.Success),
		Failure: atomic.LoadInt64(&counts.Failure),
		Skipped: atomic.LoadInt64(&counts.Skipped),
	}
}

// processOne runs the full per-identifier sequence. The claim taken at the
// top is released on every exit path, including panics, via defer.
func (p *Pipeline) processOne(ctx context.Context, id string, counts *Counts) {
	if !p.registry.TryClaim(id) {
		p.count(&counts.Skipped, "skipped")
		return
	}
	defer p.registry.Release(id)

	if p.registry.WasRecentlyCompleted(id) {
		p.logger.Debug("identifier completed recently, skipping", slog.String("identifier", id))
		p.count(&counts.Skipped, "skipped")
		return
	}

	derivedKey := identity.DerivedKey(id)

	exists, err := p.store.Exists(ctx, id, derivedKey)
	if err != nil {
		p.logger.Warn("store existence check failed",
			slog.String("identifier", id),
			slog.Any("error", err))
		p.count(&counts.Failure, "failure")
		return
	}
	if exists {
		// Already stored by an earlier run or a legacy identifier format.
		p.registry.MarkCompleted(id)
		p.count(&counts.Skipped, "skipped")
		return
	}

	itemCtx, cancel := context.WithTimeout(ctx, p.itemTimeout)
	defer cancel()

	art, err := p.fetcher.FetchArticle(itemCtx, id)
	if err != nil {
		// No completion mark: the identifier stays eligible for retry on
		// the next natural sync cycle.
		p.logger.Warn("article fetch failed",
			slog.String("identifier", id),
			slog.Bool("timeout", entity.IsTimeout(err)),
			slog.Any("error", err))
		p.count(&counts.Failure, "failure")
		return
	}

	art.DerivedKey = derivedKey
	art.CreatedAt = p.now()
	if err := art.Validate(); err != nil {
		p.logger.Warn("fetched article failed validation",
			slog.String("identifier", id),
			slog.Any("error", err))
		p.count(&counts.Failure, "failure")
		return
	}

	if err := p.store.InsertAtomic(ctx, art); err != nil {
		p.logger.Warn("article insert failed",
			slog.String("identifier", id),
			slog.Any("error", err))
		p.count(&counts.Failure, "failure")
		return
	}

	p.registry.MarkCompleted(id)
	p.count(&counts.Success, "success")
}

func (p *Pipeline) count(bucket *int64, result string) {
	atomic.AddInt64(bucket, 1)
	metrics.RecordPipelineItem(result)
}
