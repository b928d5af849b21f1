package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/onionscout/internal/model"
)

// DefaultWorkers is the pool size used when none is given.
const DefaultWorkers = 5

// ErrPoolShutdown is recorded for tasks that were not started because the
// pool had been shut down.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// FetchFunc crawls one URL. maxDepth is passed through from CrawlBatch.
type FetchFunc func(ctx context.Context, rawURL string, maxDepth int) (*model.CrawlResult, error)

// Pool runs crawl tasks on at most Workers goroutines. Per-domain spacing
// is left to the fetch function's transport.
type Pool struct {
	workers  int
	logger   *slog.Logger
	shutdown atomic.Bool
}

// taskKey marks the context of a running task with its pool.
type taskKey struct{}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// NewPool returns a Pool of the given size.
func NewPool(workers int, opts ...PoolOption) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p := &Pool{workers: workers}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Workers returns the pool size.
func (p *Pool) Workers() int {
	return p.workers
}

// Active reports whether the pool still starts new tasks.
func (p *Pool) Active() bool {
	return !p.shutdown.Load()
}

// Shutdown stops the pool from starting new tasks. Running tasks finish.
func (p *Pool) Shutdown() {
	if p.shutdown.CompareAndSwap(false, true) {
		p.logger.Info("crawler pool shutting down")
	}
}

// CrawlBatch runs fetch once per distinct URL and returns every result keyed
// by URL. A failing or panicking task only records errors in its own
// result. Called from inside one of this pool's tasks, it runs the URLs in
// order on the calling goroutine, so nested batches never exceed Workers
// goroutines in total.
func (p *Pool) CrawlBatch(ctx context.Context, urls []string, fetch FetchFunc, maxDepth int) map[string]*model.CrawlResult {
	results := make(map[string]*model.CrawlResult, len(urls))
	var mu sync.Mutex
	store := func(u string, r *model.CrawlResult) {
		mu.Lock()
		results[u] = r
		mu.Unlock()
	}

	nested := ctx.Value(taskKey{}) == p
	start := time.Now()
	p.logger.Debug("starting crawl batch", "urls", len(urls), "workers", p.workers, "max_depth", maxDepth, "nested", nested)

	var g errgroup.Group
	g.SetLimit(p.workers)
	taskCtx := context.WithValue(ctx, taskKey{}, p)

	queued := make(map[string]bool, len(urls))
	for _, u := range urls {
		if queued[u] {
			continue
		}
		queued[u] = true

		if !p.Active() {
			r := model.NewCrawlResult(u)
			r.AddError(ErrPoolShutdown)
			store(u, r)
			continue
		}

		if nested {
			store(u, p.run(ctx, u, fetch, maxDepth))
			continue
		}
		g.Go(func() error {
			store(u, p.run(taskCtx, u, fetch, maxDepth))
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // tasks never return errors

	p.logger.Debug("crawl batch finished", "urls", len(results), "elapsed", time.Since(start))
	return results
}

// run executes one task. Shutdown is checked when the task starts, not
// while it runs.
func (p *Pool) run(ctx context.Context, u string, fetch FetchFunc, maxDepth int) (result *model.CrawlResult) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("crawl task panicked", "url", u, "panic", rec)
			if result == nil {
				result = model.NewCrawlResult(u)
			}
			result.AddError(fmt.Errorf("crawl task panicked: %v", rec))
		}
	}()

	if !p.Active() {
		r := model.NewCrawlResult(u)
		r.AddError(ErrPoolShutdown)
		return r
	}

	r, err := fetch(ctx, u, maxDepth)
	if r == nil {
		r = model.NewCrawlResult(u)
	}
	if err != nil {
		p.logger.Warn("crawl task failed", "url", u, "error", err)
		if !r.Failed() {
			r.AddError(err)
		}
	}
	return r
}
