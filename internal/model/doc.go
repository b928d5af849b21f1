// Package model defines the records shared by the catalog, the discovery
// engine and the reports.
//
// LinkRecord is one catalogued onion link and LinkPatch a partial update of
// it. CrawlHistoryEntry is the append-only audit trail of crawl attempts.
// CrawlResult, BatchStats and DiscoveryRunStats describe what a crawl, a
// batch and a whole discovery cycle produced.
//
// The types carry JSON tags; export files and JSON reports use them.
package model
