// Package crawler holds the page-level building blocks of a crawl.
//
//   - Parser walks an HTML document and returns its title, links and the
//     onion services it mentions.
//   - Summarize reduces a page to a description and a plain-text preview.
//   - Frontier is the breadth-first queue of a recursive crawl, with depth
//     tracking and URL deduplication.
//   - Pool runs crawl tasks with bounded concurrency. Batches started from
//     inside a task run inline, so nesting never adds goroutines.
//
// Network access is not done here. Callers pass fetch functions backed by
// the tor package, whose transport waits for the per-domain throttle
// before every request.
package crawler
