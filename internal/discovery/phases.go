package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/onionscout/internal/crawler"
	"github.com/nao1215/onionscout/internal/events"
	"github.com/nao1215/onionscout/internal/model"
	"github.com/nao1215/onionscout/internal/tor"
)

// Phase names used in events and logs.
const (
	PhaseDirectories   = "directories"
	PhaseSearchEngines = "search_engines"
	PhaseBatchCrawl    = "batch_crawl"
)

// Discovery sources and engine names recorded for search results.
const (
	SourceClearnetSearch = "clearnet_search"
	EngineClearnetTavily = "clearnet_tavily"
	searchSourcePrefix   = "search:"
)

// maxClearnetDescription bounds the description stored for clearnet hits.
const maxClearnetDescription = 200

// DiscoverFromDirectories crawls up to maxSites known directory sites at
// depth zero. Every onion link they list is added to the catalog with the
// directory URL as discovery source. It returns the number of links found.
func (e *Engine) DiscoverFromDirectories(ctx context.Context, maxSites int) (int, error) {
	_, found, err := e.discoverFromDirectories(ctx, maxSites)
	return found, err
}

func (e *Engine) discoverFromDirectories(ctx context.Context, maxSites int) (crawled, found int, err error) {
	records, err := e.repo.LinksByCategory(ctx, model.CategoryDirectory, maxSites)
	if err != nil {
		return 0, 0, repoErr("list directories", model.CategoryDirectory, err)
	}
	urls := crawlable(records)
	if len(urls) == 0 {
		e.logger.Warn("no directory sites in catalog")
		return 0, 0, nil
	}

	e.logger.Info("discovering from directories", "directories", len(urls), "parallel", e.usePool(urls))
	results, err := e.crawlEach(ctx, PhaseDirectories, urls, 0, true, 1)
	for _, u := range urls {
		if r, ok := results[u]; ok {
			found += len(r.Links)
			crawled++
		}
	}
	e.logger.Info("directory discovery finished", "directories", crawled, "links", found)
	return crawled, found, err
}

// QuerySearchEngines submits query to up to maxEngines known onion search
// engines and records every onion link they return, except links back to
// the engine itself, with the engine as provenance. When no engine is
// known, or every engine failed and nothing was found, the clearnet search
// provider is used instead if the clearnet fallback is enabled.
func (e *Engine) QuerySearchEngines(ctx context.Context, query string, maxEngines int) ([]model.Discovery, error) {
	discoveries, _, err := e.querySearchEngines(ctx, query, maxEngines)
	return discoveries, err
}

func (e *Engine) querySearchEngines(ctx context.Context, query string, maxEngines int) ([]model.Discovery, int, error) {
	records, err := e.repo.LinksByCategory(ctx, model.CategorySearchEngine, maxEngines)
	if err != nil {
		return nil, 0, repoErr("list search engines", model.CategorySearchEngine, err)
	}
	engines := make([]model.LinkRecord, 0, len(records))
	for _, r := range records {
		if r.Status != model.StatusBlacklisted {
			engines = append(engines, r)
		}
	}

	seen := make(map[string]bool)
	if len(engines) == 0 {
		e.logger.Warn("no search engines in catalog")
		d, err := e.clearnetSearch(ctx, query, seen)
		return d, 0, err
	}

	searchURLs := make([]string, len(engines))
	for i, se := range engines {
		searchURLs[i] = FormatSearchURL(e.cfg.SearchEngines, se.URL, se.Title, query)
	}

	e.logger.Info("querying search engines", "query", query, "engines", len(engines))
	results, err := e.crawlEach(ctx, PhaseSearchEngines, searchURLs, 0, false, 2)
	if err != nil {
		return nil, len(engines), err
	}

	now := e.now()
	var discoveries []model.Discovery
	allFailed := true
	for i, se := range engines {
		r, ok := results[searchURLs[i]]
		if !ok {
			continue
		}
		if !r.Failed() {
			allFailed = false
		}
		name := engineName(se)
		engineHost := hostOf(se.URL)
		for _, link := range r.Links {
			key := crawler.NormalizeURL(link)
			if seen[key] || !tor.IsOnionURL(link) || hostOf(link) == engineHost {
				continue
			}
			seen[key] = true
			discoveries = append(discoveries, model.Discovery{URL: link, Engine: name, Query: query, DiscoveredAt: now})
			if err := e.addDiscovered(ctx, model.NewLink{
				URL:             link,
				DiscoverySource: searchSourcePrefix + name,
				Metadata: map[string]any{
					"search_query":   query,
					"search_engine":  name,
					"discovery_date": now.UTC().Format(time.RFC3339),
				},
			}); err != nil {
				return discoveries, len(engines), err
			}
		}
	}

	if allFailed && len(discoveries) == 0 {
		e.logger.Warn("all search engines failed", "query", query)
		d, err := e.clearnetSearch(ctx, query, seen)
		return append(discoveries, d...), len(engines), err
	}
	e.logger.Info("search engine query finished", "query", query, "discovered", len(discoveries))
	return discoveries, len(engines), nil
}

// clearnetSearch looks query up with the clearnet search provider and
// records the onion URLs among the hits.
func (e *Engine) clearnetSearch(ctx context.Context, query string, seen map[string]bool) ([]model.Discovery, error) {
	if !e.cfg.ClearnetFallbackEnabled || e.search == nil {
		return nil, nil
	}
	hits, err := e.search.Search(ctx, query, e.cfg.ClearnetMaxResults)
	if err != nil {
		e.logger.Warn("clearnet search failed", "query", query, "error", err)
		return nil, nil
	}

	now := e.now()
	var discoveries []model.Discovery
	for _, hit := range hits {
		key := crawler.NormalizeURL(hit.URL)
		if seen[key] || !tor.IsOnionURL(hit.URL) {
			continue
		}
		seen[key] = true
		discoveries = append(discoveries, model.Discovery{
			URL:          hit.URL,
			Engine:       EngineClearnetTavily,
			Query:        query,
			DiscoveredAt: now,
			Clearnet:     true,
		})
		if err := e.addDiscovered(ctx, model.NewLink{
			URL:             hit.URL,
			Title:           hit.Title,
			Description:     crawler.Truncate(hit.Content, maxClearnetDescription),
			DiscoverySource: SourceClearnetSearch,
			Metadata: map[string]any{
				"search_query":   query,
				"search_engine":  EngineClearnetTavily,
				"discovery_date": now.UTC().Format(time.RFC3339),
			},
		}); err != nil {
			return discoveries, err
		}
	}
	e.logger.Info("clearnet search finished", "query", query, "discovered", len(discoveries))
	return discoveries, nil
}

// BatchCrawl recrawls up to batchSize links that are new or were last
// checked more than RecrawlAge ago, at depth one, and tallies the outcome.
func (e *Engine) BatchCrawl(ctx context.Context, batchSize int) (model.BatchStats, error) {
	var stats model.BatchStats

	records, err := e.repo.UncheckedLinks(ctx, batchSize, e.cfg.RecrawlAge)
	if err != nil {
		return stats, repoErr("list unchecked links", "", err)
	}
	urls := crawlable(records)
	if len(urls) == 0 {
		e.logger.Info("no links due for crawling")
		return stats, nil
	}

	e.logger.Info("starting batch crawl", "links", len(urls), "parallel", e.usePool(urls))
	stats.Total = len(urls)
	results, err := e.crawlEach(ctx, PhaseBatchCrawl, urls, 1, true, 1)
	for _, u := range urls {
		if r, ok := results[u]; ok {
			stats.Add(r)
		}
	}
	e.logger.Info("batch crawl finished",
		"total", stats.Total,
		"successful", stats.Successful,
		"failed", stats.Failed,
		"new_links", stats.NewLinksDiscovered,
		"filtered", stats.FilteredForSafety,
	)
	return stats, err
}

// RunDiscoveryCycle runs the directory, search engine and batch phases
// with limits scaled by the configured mode. The summary is returned even
// when a phase fails.
func (e *Engine) RunDiscoveryCycle(ctx context.Context, query string) (*model.DiscoveryRunStats, error) {
	stats := &model.DiscoveryRunStats{
		RunID:     uuid.NewString(),
		Mode:      string(e.cfg.Mode),
		Query:     query,
		StartedAt: e.now(),
	}
	start := time.Now()
	defer func() {
		stats.Elapsed = time.Since(start)
	}()

	dirLimit, engineLimit, batchSize := e.cfg.phaseLimits()
	e.logger.Info("starting discovery cycle",
		"run_id", stats.RunID,
		"mode", e.cfg.Mode,
		"directories", dirLimit,
		"engines", engineLimit,
		"batch", batchSize,
	)

	e.startPhase(PhaseDirectories)
	crawled, found, err := e.discoverFromDirectories(ctx, dirLimit)
	stats.DirectoriesCrawled = crawled
	stats.NewLinksDiscovered += found
	if e.endPhase(stats, PhaseDirectories, err) {
		return stats, err
	}

	if strings.TrimSpace(query) != "" {
		e.startPhase(PhaseSearchEngines)
		discoveries, queried, err := e.querySearchEngines(ctx, query, engineLimit)
		stats.SearchEnginesQueried = queried
		stats.NewLinksDiscovered += len(discoveries)
		if e.endPhase(stats, PhaseSearchEngines, err) {
			return stats, err
		}
	}

	e.startPhase(PhaseBatchCrawl)
	batch, err := e.BatchCrawl(ctx, batchSize)
	stats.Batch = batch
	stats.SitesCrawled = batch.Successful + batch.Failed
	if e.endPhase(stats, PhaseBatchCrawl, err) {
		return stats, err
	}

	e.logger.Info("discovery cycle finished",
		"run_id", stats.RunID,
		"directories", stats.DirectoriesCrawled,
		"engines", stats.SearchEnginesQueried,
		"sites", stats.SitesCrawled,
		"new_links", stats.NewLinksDiscovered,
	)
	return stats, nil
}

func (e *Engine) startPhase(phase string) {
	e.emit(events.New(events.PhaseStarted, phase, ""))
}

// endPhase records the outcome of phase and reports whether the cycle
// must stop.
func (e *Engine) endPhase(stats *model.DiscoveryRunStats, phase string, err error) bool {
	if err == nil {
		e.emit(events.New(events.PhaseCompleted, phase, ""))
		return false
	}
	stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", phase, err))
	e.emit(events.New(events.PhaseError, phase, err.Error()))
	e.logger.Error("discovery phase failed", "phase", phase, "error", err)
	return true
}

// crawlEach crawls urls at maxDepth and returns the results keyed by URL.
// It uses the worker pool for more than one URL when parallel crawling is
// enabled; otherwise the URLs are crawled in order with recovery and a
// random pause scaled by delayFactor between them. Only repository
// failures and cancellation stop it early.
func (e *Engine) crawlEach(ctx context.Context, phase string, urls []string, maxDepth int, store bool, delayFactor int) (map[string]*model.CrawlResult, error) {
	if e.usePool(urls) {
		var errs repoErrors
		results := e.pool.CrawlBatch(ctx, urls, func(ctx context.Context, u string, depth int) (*model.CrawlResult, error) {
			r, err := e.CrawlOne(ctx, u, depth, store)
			errs.record(err)
			return r, err
		}, maxDepth)
		e.emit(events.Progress(phase, len(results), len(urls)))
		return results, errs.first()
	}

	results := make(map[string]*model.CrawlResult, len(urls))
	for i, u := range urls {
		if i > 0 {
			if err := e.pause(ctx, delayFactor); err != nil {
				return results, err
			}
		}
		r, err := e.crawlWithRecovery(ctx, u, maxDepth, store)
		if r != nil {
			results[u] = r
		}
		if err != nil {
			return results, err
		}
		e.emit(events.Progress(phase, i+1, len(urls)))
	}
	return results, nil
}

func (e *Engine) usePool(urls []string) bool {
	return e.cfg.ParallelEnabled && len(urls) > 1
}

// crawlable returns the URLs of records that may be crawled.
func crawlable(records []model.LinkRecord) []string {
	urls := make([]string, 0, len(records))
	for _, r := range records {
		if r.Status == model.StatusBlacklisted {
			continue
		}
		urls = append(urls, r.URL)
	}
	return urls
}

func engineName(r model.LinkRecord) string {
	if r.Title != "" {
		return r.Title
	}
	return hostOf(r.URL)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// IsRepositoryError reports whether err came from the link repository.
func IsRepositoryError(err error) bool {
	return errors.Is(err, ErrRepository)
}
