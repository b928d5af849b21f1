// Package log provides slog loggers that mask sensitive values.
//
// SecureHandler wraps any slog.Handler. Before a record reaches the
// wrapped handler it masks:
//   - cookies and authorization headers sent to onion sites
//   - the clearnet search provider API key
//   - SOCKS circuit isolation credentials, including the password part
//     of proxy URLs
//   - bearer tokens, JWTs and private key material found in any value
//
// Onion URLs and hosts are never masked; they are the point of the logs.
//
// # Usage
//
//	logger := log.NewLogger(os.Stderr, log.Options{Verbose: true})
//	logger.Info("crawled", "url", "http://example.onion", "cookie", "sid=1")
//	// url is kept, cookie becomes ***REDACTED***
//
// The loggers can be handed to tornago, which accepts *slog.Logger.
package log
