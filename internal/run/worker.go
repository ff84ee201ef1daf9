package run

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Processor executes a claimed run and records the outcome on r.
type Processor interface {
	Process(ctx context.Context, r *Run) error
}

// WorkerPool runs a fixed number of goroutines that claim and process
// pending runs.
type WorkerPool struct {
	repo         Repository
	processor    Processor
	workers      int
	notify       chan struct{}
	pollInterval time.Duration
	logger       *slog.Logger
}

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithPoolLogger sets the logger runs are reported on.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(wp *WorkerPool) {
		if l != nil {
			wp.logger = l
		}
	}
}

// NewWorkerPool creates a pool with the given number of workers. Each
// worker executes one run at a time, and each run starts its own download
// workers, so keep this small.
func NewWorkerPool(repo Repository, processor Processor, workers int, opts ...PoolOption) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	wp := &WorkerPool{
		repo:         repo,
		processor:    processor,
		workers:      workers,
		notify:       make(chan struct{}, 1),
		pollInterval: 5 * time.Second,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(wp)
	}
	return wp
}

// Notify wakes idle workers to check for pending runs. Non-blocking.
func (wp *WorkerPool) Notify() {
	select {
	case wp.notify <- struct{}{}:
	default:
	}
}

// Run starts the worker goroutines and blocks until ctx is cancelled and
// every worker has returned.
func (wp *WorkerPool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range wp.workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			wp.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (wp *WorkerPool) loop(ctx context.Context, id int) {
	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		wp.drain(ctx, id)

		select {
		case <-ctx.Done():
			return
		case <-wp.notify:
		case <-ticker.C:
		}
	}
}

func (wp *WorkerPool) drain(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		r, err := wp.repo.ClaimPending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wp.logger.Error("run pool: claim pending", "worker", id, "error", err)
			return
		}
		if r == nil {
			return
		}

		logger := wp.logger.With("worker", id, "run", r.ID, "symbol", r.Symbol)
		logger.Info("run pool: processing run",
			"from", r.StartDate.Format(dateFormat), "to", r.EndDate.Format(dateFormat))

		start := time.Now()
		err = wp.processor.Process(ctx, r)
		report(logger, r, err, time.Since(start))
	}
}

// report logs the outcome Process left on r.
func report(logger *slog.Logger, r *Run, err error, took time.Duration) {
	attrs := []any{"status", r.Status, "records", r.RecordsCount, "complete", r.Complete, "duration", took}
	switch {
	case err != nil:
		logger.Error("run pool: run failed", append(attrs, "error", err)...)
	case r.Status == StatusFailed:
		logger.Error("run pool: run failed", append(attrs, "error", r.Error)...)
	case !r.Complete:
		logger.Warn("run pool: run incomplete", append(attrs, "error", r.Error)...)
	default:
		logger.Info("run pool: run finished", attrs...)
	}
}
