// Package discovery finds and crawls onion services.
//
// An Engine crawls single sites breadth-first with retries, harvests links
// from directory sites and onion search engines, and recrawls stale links
// of the catalog in batches. When onion sites stay unreachable it can fall
// back to a clearnet search provider. RunDiscoveryCycle chains the phases
// with sizes scaled by the discovery mode.
package discovery
