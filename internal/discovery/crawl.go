package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/onionscout/internal/crawler"
	"github.com/nao1215/onionscout/internal/events"
	"github.com/nao1215/onionscout/internal/model"
	"github.com/nao1215/onionscout/internal/retry"
	"github.com/nao1215/onionscout/internal/safety"
	"github.com/nao1215/onionscout/internal/tor"
)

// maxAnchorTitle bounds the title stored for a link found through an anchor.
const maxAnchorTitle = 100

// CrawlOne fetches rawURL and, while maxDepth allows, up to
// LinkLimitPerPage onion links of every fetched page, level by level.
// With store set, every discovered link, page summary and crawl outcome
// is written to the repository.
//
// The returned error is non-nil when the root page could not be fetched,
// or when the repository failed (wrapping ErrRepository). Failures of
// child pages are only recorded in the result.
func (e *Engine) CrawlOne(ctx context.Context, rawURL string, maxDepth int, store bool) (*model.CrawlResult, error) {
	frontier := crawler.NewFrontier(rawURL, maxDepth)
	level := frontier.NextLevel()

	root, err := e.fetchPage(ctx, rawURL, store)
	if err != nil {
		return root, err
	}
	e.pushChildren(frontier, level, []*model.CrawlResult{root})

	for level = frontier.NextLevel(); level != nil; level = frontier.NextLevel() {
		if err := ctx.Err(); err != nil {
			root.AddError(err)
			return root, err
		}
		pages, err := e.fetchLevel(ctx, level, store)
		for _, page := range pages {
			root.Merge(page)
		}
		if err != nil {
			return root, err
		}
		e.pushChildren(frontier, level, pages)
	}
	return root, nil
}

// pushChildren queues the first LinkLimitPerPage links of every successful
// page that may still open links.
func (e *Engine) pushChildren(frontier *crawler.Frontier, level []crawler.Item, pages []*model.CrawlResult) {
	for i, item := range level {
		page := pages[i]
		if page.Failed() || item.Remaining <= 0 {
			continue
		}
		links := page.Links[:min(len(page.Links), e.cfg.LinkLimitPerPage)]
		for _, link := range links {
			frontier.Push(link, item.Remaining-1)
		}
	}
}

// fetchLevel fetches one frontier level and returns the page results in
// level order. A level of several pages that still has links to open runs
// on the worker pool when parallel crawling is enabled.
func (e *Engine) fetchLevel(ctx context.Context, level []crawler.Item, store bool) ([]*model.CrawlResult, error) {
	pages := make([]*model.CrawlResult, len(level))

	if e.cfg.ParallelEnabled && len(level) > 1 && level[0].Remaining >= 1 {
		urls := make([]string, len(level))
		for i, item := range level {
			urls[i] = item.URL
		}
		var errs repoErrors
		results := e.pool.CrawlBatch(ctx, urls, func(ctx context.Context, u string, _ int) (*model.CrawlResult, error) {
			r, err := e.fetchPage(ctx, u, store)
			errs.record(err)
			return r, err
		}, 0)
		for i, u := range urls {
			pages[i] = results[u]
		}
		return pages, errs.first()
	}

	for i, item := range level {
		if i > 0 {
			if err := e.pause(ctx, 1); err != nil {
				for j := i; j < len(level); j++ {
					pages[j] = model.NewCrawlResult(level[j].URL)
					pages[j].AddError(err)
				}
				return pages, nil
			}
		}
		r, err := e.fetchPage(ctx, item.URL, store)
		pages[i] = r
		if errors.Is(err, ErrRepository) {
			for j := i + 1; j < len(level); j++ {
				pages[j] = model.NewCrawlResult(level[j].URL)
			}
			return pages, err
		}
	}
	return pages, nil
}

// fetchPage fetches and summarizes a single page. Its links are the onion
// links of that page only.
func (e *Engine) fetchPage(ctx context.Context, rawURL string, store bool) (*model.CrawlResult, error) {
	result := model.NewCrawlResult(rawURL)

	resp, err := e.transport.PerformRequest(ctx, http.MethodGet, rawURL, tor.RequestOptions{})
	if err != nil {
		return result, e.failPage(ctx, result, store, fmt.Errorf("crawl %s: %w", rawURL, err))
	}
	result.ResponseTime = resp.ResponseTime

	parser, err := crawler.NewParser(rawURL)
	if err != nil {
		return result, e.failPage(ctx, result, store, fmt.Errorf("crawl %s: %w", rawURL, err))
	}
	parsed, err := parser.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return result, e.failPage(ctx, result, store, fmt.Errorf("parse %s: %w", rawURL, err))
	}
	summary := crawler.Summarize(resp.Body)

	result.Title = parsed.Title
	if result.Title == "" {
		result.Title = summary.Title
	}
	result.Description = summary.Description
	result.Content = summary.Text

	anchorText := make(map[string]string, len(parsed.Links))
	for _, l := range parsed.Links {
		if _, ok := anchorText[l.URL]; !ok {
			anchorText[l.URL] = l.Text
		}
	}
	for _, link := range parsed.OnionLinks {
		if e.cfg.StrictAddresses && !validOnionHost(link) {
			continue
		}
		result.Links = append(result.Links, link)
		if !store {
			continue
		}
		if err := e.addDiscovered(ctx, model.NewLink{
			URL:             link,
			Title:           crawler.Truncate(anchorText[link], maxAnchorTitle),
			DiscoverySource: rawURL,
		}); err != nil {
			return result, err
		}
	}

	e.consecutiveErrors.Store(0)
	e.logger.Debug("crawled page", "url", rawURL, "links", len(result.Links), "response_time", resp.ResponseTime)

	if !store {
		return result, nil
	}
	return result, e.recordSuccess(ctx, result, summary)
}

// failPage records cause on result, extends the failure streak and, with
// store set, marks the link as errored. It returns cause, or the
// repository error when recording failed.
func (e *Engine) failPage(ctx context.Context, result *model.CrawlResult, store bool, cause error) error {
	result.AddError(cause)
	streak := e.consecutiveErrors.Add(1)
	e.logger.Warn("crawl failed", "url", result.URL, "error", cause, "consecutive_errors", streak)
	if store {
		if err := e.recordFailure(ctx, result.URL, cause); err != nil {
			return err
		}
	}
	return cause
}

// recordSuccess stores the page summary, the safety verdict and a success
// history entry.
func (e *Engine) recordSuccess(ctx context.Context, result *model.CrawlResult, summary crawler.Summary) error {
	preview := summary.Preview(e.cfg.ContentPreviewLength)
	metadata := map[string]any{
		"last_crawled":     e.now().UTC().Format(time.RFC3339),
		"response_time_ms": result.ResponseTime.Milliseconds(),
	}

	verdict, err := safety.Evaluate(ctx, e.classifier, preview, result.URL, e.cfg.SafetyThreshold)
	if err != nil {
		e.logger.Warn("safety classification failed", "url", result.URL, "error", err)
	}
	if verdict.Filtered {
		preview = safety.Redact(verdict.Reason)
		result.WasFiltered = true
		result.FilterReason = verdict.Reason
		metadata["filtered"] = true
		metadata["filter_reason"] = verdict.Reason
		e.logger.Info("content filtered", "url", result.URL, "reason", verdict.Reason)
	}

	patch := model.Patch().
		WithContentPreview(preview).
		WithStatus(model.StatusActive).
		WithMetadata(metadata)
	if result.Title != "" {
		patch.WithTitle(result.Title)
	}
	if result.Description != "" {
		patch.WithDescription(result.Description)
	}

	unlock := e.urlLocks.Lock(result.URL)
	defer unlock()

	if _, err := e.repo.UpdateLink(ctx, result.URL, patch); err != nil {
		return repoErr("update link", result.URL, err)
	}
	if _, err := e.repo.AddCrawlHistory(ctx, model.CrawlHistoryEntry{
		URL:          result.URL,
		Timestamp:    e.now(),
		Outcome:      model.OutcomeSuccess,
		ResponseTime: result.ResponseTime,
	}); err != nil {
		return repoErr("add crawl history", result.URL, err)
	}
	return nil
}

// recordFailure marks rawURL as errored and appends an error history entry.
func (e *Engine) recordFailure(ctx context.Context, rawURL string, cause error) error {
	unlock := e.urlLocks.Lock(rawURL)
	defer unlock()

	if _, err := e.repo.UpdateLinkStatus(ctx, rawURL, model.StatusError); err != nil {
		return repoErr("update link status", rawURL, err)
	}
	if _, err := e.repo.AddCrawlHistory(ctx, model.CrawlHistoryEntry{
		URL:          rawURL,
		Timestamp:    e.now(),
		Outcome:      model.OutcomeError,
		ErrorMessage: cause.Error(),
	}); err != nil {
		return repoErr("add crawl history", rawURL, err)
	}
	return nil
}

// addDiscovered inserts link and emits a discovery event when it is new.
func (e *Engine) addDiscovered(ctx context.Context, link model.NewLink) error {
	added, err := e.repo.AddLink(ctx, link)
	if err != nil {
		return repoErr("add link", link.URL, err)
	}
	if added {
		e.emit(events.Discovered(link.URL, link.DiscoverySource))
	}
	return nil
}

// CrawlWithRecovery crawls rawURL with CrawlOne under the retry policy.
// When every retry failed, the process-wide failure streak has reached
// ConsecutiveErrorThreshold and the clearnet fallback is enabled, the
// clearnet search provider is asked about the site instead. Otherwise the
// result carries the last error.
//
// Only repository failures and context cancellation are returned as errors.
func (e *Engine) CrawlWithRecovery(ctx context.Context, rawURL string, maxDepth int) (*model.CrawlResult, error) {
	return e.crawlWithRecovery(ctx, rawURL, maxDepth, true)
}

func (e *Engine) crawlWithRecovery(ctx context.Context, rawURL string, maxDepth int, store bool) (*model.CrawlResult, error) {
	var last *model.CrawlResult
	// Each attempt goes through a transport that retries on its own, so one
	// URL can cost up to (MaxRetries+1)^2 requests.
	result, err := retry.Do(ctx, e.cfg.Retry, func(ctx context.Context, _ int) (*model.CrawlResult, error) {
		r, err := e.CrawlOne(ctx, rawURL, maxDepth, store)
		last = r
		if errors.Is(err, ErrRepository) {
			return r, retry.Permanent(err)
		}
		return r, err
	},
		retry.WithSleeper(e.sleep),
		retry.WithLogger(e.logger),
		retry.WithLabel(rawURL),
	)
	if err == nil {
		return result, nil
	}
	if last == nil {
		last = model.NewCrawlResult(rawURL)
		last.AddError(err)
	}
	if errors.Is(err, ErrRepository) || ctx.Err() != nil {
		return last, err
	}

	streak := e.consecutiveErrors.Add(1)
	e.logger.Error("crawl failed after retries",
		"url", rawURL,
		"retries", e.cfg.Retry.MaxRetries,
		"consecutive_errors", streak,
		"error", err,
	)

	if store && e.cfg.ClearnetFallbackEnabled && e.search != nil && streak >= int64(e.cfg.ConsecutiveErrorThreshold) {
		e.logger.Warn("switching to clearnet fallback", "url", rawURL, "consecutive_errors", streak)
		return e.clearnetFallback(ctx, rawURL)
	}

	failed := model.NewCrawlResult(rawURL)
	failed.AddError(err)
	return failed, nil
}

// clearnetFallback asks the clearnet search provider about an unreachable
// onion site and records the attempt on its catalog entry.
func (e *Engine) clearnetFallback(ctx context.Context, rawURL string) (*model.CrawlResult, error) {
	result := model.NewCrawlResult(rawURL)
	terms := e.search.ExtractSearchTerms(rawURL)

	results, err := e.search.Search(ctx, terms, e.cfg.ClearnetMaxResults)
	if err != nil {
		e.logger.Warn("clearnet fallback failed", "url", rawURL, "error", err)
		result.AddError(fmt.Errorf("clearnet fallback for %s: %w", rawURL, err))
		return result, nil
	}
	if len(results) == 0 {
		result.AddError(ErrNoFallbackResults)
		return result, nil
	}

	var content strings.Builder
	content.WriteString("[CLEARNET FALLBACK RESULTS]\n\n")
	for i, r := range results {
		if i > 0 {
			content.WriteString("\n\n")
		}
		fmt.Fprintf(&content, "--- %s ---\n%s", r.Title, r.Content)
		result.Links = append(result.Links, r.URL)
	}
	result.Title = "Clearnet results for " + terms
	result.Content = content.String()
	result.WasClearnetFallback = true

	e.logger.Info("clearnet fallback succeeded", "url", rawURL, "results", len(results))

	unlock := e.urlLocks.Lock(rawURL)
	defer unlock()
	patch := model.Patch().
		WithStatus(model.StatusClearnetFallback).
		WithMetadata(map[string]any{
			"last_checked":      e.now().UTC().Format(time.RFC3339),
			"clearnet_fallback": true,
			"search_terms":      terms,
		})
	if _, err := e.repo.UpdateLink(ctx, rawURL, patch); err != nil {
		return result, repoErr("update link", rawURL, err)
	}
	return result, nil
}

// CheckStatus sends a HEAD request to rawURL and records the outcome in
// the crawl history. It reports whether the site answered.
func (e *Engine) CheckStatus(ctx context.Context, rawURL string) (bool, error) {
	resp, err := e.transport.PerformRequest(ctx, http.MethodHead, rawURL, tor.RequestOptions{})

	entry := model.CrawlHistoryEntry{URL: rawURL, Timestamp: e.now(), Outcome: model.OutcomeSuccess}
	if err != nil {
		entry.Outcome = model.OutcomeError
		entry.ErrorMessage = err.Error()
		e.logger.Info("site is down", "url", rawURL, "error", err)
	} else {
		entry.ResponseTime = resp.ResponseTime
		e.logger.Info("site is up", "url", rawURL, "status", resp.StatusCode, "response_time", resp.ResponseTime)
	}

	if _, herr := e.repo.AddCrawlHistory(ctx, entry); herr != nil {
		return err == nil, repoErr("add crawl history", rawURL, herr)
	}
	return err == nil, nil
}

// validOnionHost reports whether the host of rawURL is a valid v3 address.
func validOnionHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return tor.IsValidV3Address(u.Hostname())
}

// repoErrors keeps the first repository failure seen by pool tasks.
type repoErrors struct {
	mu  sync.Mutex
	err error
}

func (r *repoErrors) record(err error) {
	if !errors.Is(err, ErrRepository) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

func (r *repoErrors) first() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
