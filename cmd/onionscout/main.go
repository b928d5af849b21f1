// Package main provides the entry point for the onionscout CLI.
//
// onionscout discovers Tor onion services. It crawls directory sites and
// onion search engines through Tor, keeps every link it finds in a local
// SQLite catalog and recrawls the catalog in batches.
//
// Usage:
//
//	onionscout seed
//	onionscout discover --query "privacy"
//	onionscout links list --status active
//
// See --help for all available options.
package main

func main() {
	Execute()
}
