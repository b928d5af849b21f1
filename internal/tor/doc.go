// Package tor manages the transport used to reach onion services.
//
// A Client knows how to dial the local Tor SOCKS5 proxy and how to build HTTP
// clients whose connections are isolated per circuit. SessionManager sits on
// top of it: it owns the current Circuit, rotates it when it grows too old or
// has served too many requests, validates fresh circuits against an IsTor
// endpoint, and retries requests with backoff and an optional clearnet
// fallback.
//
// Tor itself is not part of this package. Either a system daemon is reachable
// on the configured SOCKS address, or EmbeddedTor starts one via tornago.
package tor
