// Package database provides the SQLite-backed link catalog.
//
// LinkDB stores one row per discovered URL together with an append-only
// crawl history. URL is the unique key: AddLink is the deduplication gate
// of the whole discovery process and reports false for a URL that is
// already catalogued, whatever its status.
//
// The driver is modernc.org/sqlite, so the binary stays CGO-free.
package database
