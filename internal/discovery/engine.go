package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/onionscout/internal/crawler"
	"github.com/nao1215/onionscout/internal/events"
	"github.com/nao1215/onionscout/internal/model"
	"github.com/nao1215/onionscout/internal/retry"
	"github.com/nao1215/onionscout/internal/safety"
	"github.com/nao1215/onionscout/internal/search"
	"github.com/nao1215/onionscout/internal/tor"
)

// ErrRepository wraps every failure of the link repository.
var ErrRepository = errors.New("link repository error")

// ErrNoFallbackResults is recorded when the clearnet fallback found nothing.
var ErrNoFallbackResults = errors.New("no results from clearnet fallback")

// ErrMissingDependency is returned by NewEngine when a required
// collaborator is nil.
var ErrMissingDependency = errors.New("missing engine dependency")

// LinkRepository persists the link catalog. database.LinkDB implements it.
type LinkRepository interface {
	AddLink(ctx context.Context, link model.NewLink) (bool, error)
	UpdateLink(ctx context.Context, url string, patch *model.LinkPatch) (bool, error)
	UpdateLinkStatus(ctx context.Context, url string, status model.Status) (bool, error)
	AddCrawlHistory(ctx context.Context, entry model.CrawlHistoryEntry) (bool, error)
	LinksByCategory(ctx context.Context, category string, limit int) ([]model.LinkRecord, error)
	LinksByStatus(ctx context.Context, status model.Status, limit int) ([]model.LinkRecord, error)
	UncheckedLinks(ctx context.Context, limit int, olderThan time.Duration) ([]model.LinkRecord, error)
}

// Fetcher performs HTTP requests. tor.SessionManager implements it.
type Fetcher interface {
	PerformRequest(ctx context.Context, method, rawURL string, opts tor.RequestOptions) (*tor.Response, error)
}

// SearchProvider is a clearnet search API. search.TavilyProvider implements it.
type SearchProvider interface {
	Search(ctx context.Context, query string, maxResults int) ([]search.Result, error)
	ExtractSearchTerms(onionURL string) string
}

// Mode scales the size of every discovery phase.
type Mode string

// Discovery modes.
const (
	ModePassive    Mode = "passive"
	ModeActive     Mode = "active"
	ModeAggressive Mode = "aggressive"
)

// ParseMode converts a string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModePassive, ModeActive, ModeAggressive:
		return m, nil
	default:
		return "", fmt.Errorf("unknown discovery mode %q", s)
	}
}

// Config tunes the engine.
type Config struct {
	Mode Mode

	// CrawlDepth is the default depth of CrawlOne callers such as the CLI.
	CrawlDepth int
	// LinkLimitPerPage caps the children followed from one page.
	LinkLimitPerPage int

	ParallelEnabled         bool
	ClearnetFallbackEnabled bool

	DirectorySitesLimit int
	SearchEnginesLimit  int
	BatchCrawlSize      int
	// RecrawlAge is how old last_checked must be for a batch recrawl.
	RecrawlAge time.Duration

	ContentPreviewLength int
	SafetyThreshold      int

	// ConsecutiveErrorThreshold is the process-wide count of failed crawls
	// from which exhausted retries switch to the clearnet search provider.
	ConsecutiveErrorThreshold int

	// CrawlDelayMin and CrawlDelayMax bound the random pause between
	// sequential crawls.
	CrawlDelayMin time.Duration
	CrawlDelayMax time.Duration

	// Retry drives CrawlWithRecovery.
	Retry retry.Policy

	// StrictAddresses keeps only links whose host is a checksum-valid v3
	// onion address.
	StrictAddresses bool

	// ClearnetMaxResults bounds one clearnet search.
	ClearnetMaxResults int

	// SearchEngines maps engines to their query URL conventions.
	SearchEngines []SearchEngine
}

// DefaultConfig returns the defaults of the discovery engine.
func DefaultConfig() Config {
	return Config{
		Mode:                      ModePassive,
		CrawlDepth:                2,
		LinkLimitPerPage:          5,
		ParallelEnabled:           true,
		ClearnetFallbackEnabled:   true,
		DirectorySitesLimit:       5,
		SearchEnginesLimit:        3,
		BatchCrawlSize:            15,
		RecrawlAge:                24 * time.Hour,
		ContentPreviewLength:      crawler.DefaultPreviewLength,
		SafetyThreshold:           safety.DefaultThreshold,
		ConsecutiveErrorThreshold: 5,
		CrawlDelayMin:             2 * time.Second,
		CrawlDelayMax:             5 * time.Second,
		Retry:                     retry.DefaultPolicy(),
		StrictAddresses:           true,
		ClearnetMaxResults:        10,
		SearchEngines:             DefaultSearchEngines(),
	}
}

// phaseLimits returns the directory, engine and batch sizes for the mode.
func (c Config) phaseLimits() (dirs, engines, batch int) {
	dirs, engines, batch = c.DirectorySitesLimit, c.SearchEnginesLimit, c.BatchCrawlSize
	switch c.Mode {
	case ModeAggressive:
		return dirs * 2, engines * 2, batch * 2
	case ModePassive:
		return dirs, engines, max(5, batch/2)
	default:
		return dirs, engines, batch
	}
}

// Engine drives crawling and the discovery phases. One Engine owns its
// consecutive-error counter; independent engines share nothing.
type Engine struct {
	cfg        Config
	repo       LinkRepository
	transport  Fetcher
	pool       *crawler.Pool
	classifier safety.Classifier
	search     SearchProvider
	sink       events.Sink
	logger     *slog.Logger
	now        func() time.Time
	sleep      retry.Sleeper

	consecutiveErrors atomic.Int64
	urlLocks          keyedMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithPool sets the worker pool used for parallel phases.
func WithPool(p *crawler.Pool) Option {
	return func(e *Engine) {
		e.pool = p
	}
}

// WithClassifier enables safety filtering of stored previews.
func WithClassifier(c safety.Classifier) Option {
	return func(e *Engine) {
		e.classifier = c
	}
}

// WithSearchProvider sets the clearnet search provider.
func WithSearchProvider(p SearchProvider) Option {
	return func(e *Engine) {
		e.search = p
	}
}

// WithEventSink sets where progress and discovery events go.
func WithEventSink(s events.Sink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock sets the clock used for metadata timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithSleeper sets the sleeper used for retry backoff and crawl delays.
func WithSleeper(s retry.Sleeper) Option {
	return func(e *Engine) {
		e.sleep = s
	}
}

// NewEngine returns an Engine over repo and transport.
func NewEngine(repo LinkRepository, transport Fetcher, opts ...Option) (*Engine, error) {
	if repo == nil {
		return nil, fmt.Errorf("%w: link repository", ErrMissingDependency)
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: transport", ErrMissingDependency)
	}

	e := &Engine{
		cfg:       DefaultConfig(),
		repo:      repo,
		transport: transport,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.pool == nil {
		e.pool = crawler.NewPool(crawler.DefaultWorkers, crawler.WithPoolLogger(e.logger))
	}
	if e.sink == nil {
		e.sink = events.Nop{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.sleep == nil {
		e.sleep = retry.Sleep
	}
	if e.cfg.LinkLimitPerPage <= 0 {
		e.cfg.LinkLimitPerPage = DefaultConfig().LinkLimitPerPage
	}
	if e.cfg.ContentPreviewLength <= 0 {
		e.cfg.ContentPreviewLength = crawler.DefaultPreviewLength
	}
	if e.cfg.ConsecutiveErrorThreshold <= 0 {
		e.cfg.ConsecutiveErrorThreshold = DefaultConfig().ConsecutiveErrorThreshold
	}
	if len(e.cfg.SearchEngines) == 0 {
		e.cfg.SearchEngines = DefaultSearchEngines()
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// ConsecutiveErrors returns the current process-wide failure streak.
func (e *Engine) ConsecutiveErrors() int {
	return int(e.consecutiveErrors.Load())
}

// Shutdown stops the worker pool from starting new tasks.
func (e *Engine) Shutdown() {
	e.pool.Shutdown()
}

// emit delivers an event. A misbehaving sink never fails the crawl.
func (e *Engine) emit(ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("event sink panicked", "event", ev.Type, "panic", r)
		}
	}()
	e.sink.Emit(ev)
}

// pause sleeps a random duration in [CrawlDelayMin, CrawlDelayMax] scaled
// by factor.
func (e *Engine) pause(ctx context.Context, factor int) error {
	lo, hi := e.cfg.CrawlDelayMin, e.cfg.CrawlDelayMax
	if hi < lo {
		hi = lo
	}
	d := lo
	if hi > lo {
		d += rand.N(hi - lo) //nolint:gosec // politeness jitter only
	}
	d *= time.Duration(max(factor, 1))
	if d <= 0 {
		return ctx.Err()
	}
	return e.sleep(ctx, d)
}

func repoErr(op, url string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrRepository, op, url, err)
}

// keyedMutex serializes work per key without a global lock.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock locks key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
