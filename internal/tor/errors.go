package tor

import (
	"errors"
	"fmt"
	"net/http"
)

// Proxy preflight errors, reported by CheckConnection.
var (
	// ErrProxyNotTor is returned when the proxy answers but does not behave
	// like a Tor SOCKS5 port.
	ErrProxyNotTor = errors.New("proxy is not a Tor SOCKS5 proxy")

	// ErrProxyCannotConnect is returned when no TCP connection to the proxy
	// could be made.
	ErrProxyCannotConnect = errors.New("cannot connect to Tor proxy")

	// ErrProxyTimeout is returned when the proxy did not answer in time.
	ErrProxyTimeout = errors.New("timeout connecting to Tor proxy")

	// ErrInvalidProxyAddress is returned for addresses that are not host:port.
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")
)

// Transport errors returned by SessionManager.
var (
	// ErrTransportUnavailable means the proxy is unreachable or traffic is not
	// routed through Tor, and no fallback was allowed.
	ErrTransportUnavailable = errors.New("tor transport unavailable")

	// ErrRequestFailed means every attempt for one URL failed.
	ErrRequestFailed = errors.New("request failed")

	// ErrCircuitRotationFailed means a fresh isolated client could not be built.
	ErrCircuitRotationFailed = errors.New("circuit rotation failed")

	// ErrFallbackExhausted means both Tor and the direct transport failed for
	// one URL after all retries.
	ErrFallbackExhausted = errors.New("tor and clearnet transports exhausted")
)

// StatusError reports an HTTP error status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether the status is worth another attempt:
// server errors and 429 are, other client errors are not.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// ProxyStatus is the outcome of CheckConnection.
type ProxyStatus int

const (
	// ProxyStatusOK means the proxy completed a SOCKS5 CONNECT exchange.
	ProxyStatusOK ProxyStatus = iota
	// ProxyStatusWrongType means something answered, but not as Tor would.
	ProxyStatusWrongType
	// ProxyStatusCannotConnect means the TCP connection failed.
	ProxyStatusCannotConnect
	// ProxyStatusTimeout means the handshake timed out.
	ProxyStatusTimeout
)

func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "wrong type (not Tor)"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error returns the sentinel error matching s, or nil for ProxyStatusOK.
func (s ProxyStatus) Error() error {
	switch s {
	case ProxyStatusOK:
		return nil
	case ProxyStatusWrongType:
		return ErrProxyNotTor
	case ProxyStatusCannotConnect:
		return ErrProxyCannotConnect
	case ProxyStatusTimeout:
		return ErrProxyTimeout
	default:
		return errors.New("unknown proxy status")
	}
}
