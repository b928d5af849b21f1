package model

import (
	"time"
)

// CrawlResult is the output of one crawl attempt rooted at URL.
// Content, Links and Errors also accumulate the output of crawled children.
type CrawlResult struct {
	URL          string        `json:"url"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	Content      string        `json:"content"`
	Links        []string      `json:"links"`
	Errors       []string      `json:"errors,omitempty"`
	ResponseTime time.Duration `json:"response_time"`

	// WasClearnetFallback is true when the result came from the clearnet
	// search provider instead of the onion service itself.
	WasClearnetFallback bool `json:"was_clearnet_fallback,omitempty"`

	// WasFiltered is true when the stored preview was redacted by the safety filter.
	WasFiltered  bool   `json:"was_filtered,omitempty"`
	FilterReason string `json:"filter_reason,omitempty"`
}

// NewCrawlResult returns an empty result for url with non-nil slices.
func NewCrawlResult(url string) *CrawlResult {
	return &CrawlResult{
		URL:    url,
		Links:  make([]string, 0),
		Errors: make([]string, 0),
	}
}

// Failed reports whether the crawl recorded at least one error.
func (r *CrawlResult) Failed() bool {
	return len(r.Errors) > 0
}

// AddError appends an error message.
func (r *CrawlResult) AddError(err error) {
	if err == nil {
		return
	}
	r.Errors = append(r.Errors, err.Error())
}

// Merge folds a child result into r: content is appended under a subpage
// marker, links and errors are concatenated.
func (r *CrawlResult) Merge(child *CrawlResult) {
	if child == nil {
		return
	}
	if child.Content != "" {
		r.Content += "\n\n--- Subpage: " + child.URL + " ---\n" + child.Content
	}
	r.Links = append(r.Links, child.Links...)
	r.Errors = append(r.Errors, child.Errors...)
}

// DiscoveryRunStats summarizes one discovery cycle.
type DiscoveryRunStats struct {
	RunID                string        `json:"run_id"`
	Mode                 string        `json:"mode"`
	Query                string        `json:"query,omitempty"`
	StartedAt            time.Time     `json:"started_at"`
	Elapsed              time.Duration `json:"elapsed"`
	DirectoriesCrawled   int           `json:"directories_crawled"`
	SearchEnginesQueried int           `json:"search_engines_queried"`
	SitesCrawled         int           `json:"sites_crawled"`
	NewLinksDiscovered   int           `json:"new_links_discovered"`
	Batch                BatchStats    `json:"batch"`
	Errors               []string      `json:"errors,omitempty"`
}

// BatchStats tallies one batch recrawl.
type BatchStats struct {
	Total              int `json:"total"`
	Successful         int `json:"successful"`
	Failed             int `json:"failed"`
	NewLinksDiscovered int `json:"new_links_discovered"`
	FilteredForSafety  int `json:"filtered_for_safety"`
}

// Add accumulates a single crawl result into the tally.
func (b *BatchStats) Add(r *CrawlResult) {
	if r == nil || r.Failed() {
		b.Failed++
		return
	}
	b.Successful++
	b.NewLinksDiscovered += len(r.Links)
	if r.WasFiltered {
		b.FilteredForSafety++
	}
}

// Discovery is one onion link found by a search-engine query, with provenance.
type Discovery struct {
	URL          string    `json:"url"`
	Engine       string    `json:"engine"`
	Query        string    `json:"query"`
	DiscoveredAt time.Time `json:"discovered_at"`
	Clearnet     bool      `json:"clearnet,omitempty"`
}

// CatalogStats is an aggregate view over the link catalog.
type CatalogStats struct {
	TotalLinks       int            `json:"total_links"`
	StatusCounts     map[string]int `json:"status_counts"`
	CategoryCounts   map[string]int `json:"category_counts"`
	DiscoverySources map[string]int `json:"discovery_sources"`
	NewestLink       string         `json:"newest_link,omitempty"`
	NewestLinkDate   time.Time      `json:"newest_link_date,omitempty"`
}
