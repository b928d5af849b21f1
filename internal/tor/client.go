package tor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// checkProxyTimeout bounds the SOCKS5 preflight handshake.
const checkProxyTimeout = 2 * time.Second

// maxRedirects is the redirect limit of every client built here.
const maxRedirects = 10

// Client builds connections through the Tor SOCKS5 proxy.
type Client struct {
	proxyAddress string
	timeout      time.Duration
}

// NewClient returns a Client for proxyAddress ("host:port"). It does not
// contact the proxy; use CheckConnection for that.
func NewClient(proxyAddress string, timeout time.Duration) (*Client, error) {
	if !isValidProxyAddress(proxyAddress) {
		return nil, ErrInvalidProxyAddress
	}
	return &Client{proxyAddress: proxyAddress, timeout: timeout}, nil
}

// isValidProxyAddress reports whether address is host:port with a port in
// 1..65535.
func isValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// ProxyAddress returns the configured proxy address.
func (c *Client) ProxyAddress() string {
	return c.proxyAddress
}

// NewHTTPClient returns an HTTP client whose connections go through the
// proxy. A non-empty isolation key is sent as SOCKS5 username and password;
// Tor's IsolateSOCKSAuth (on by default) then puts the connections on a
// circuit of their own, so a new key means a new circuit.
func (c *Client) NewHTTPClient(isolation string) (*http.Client, error) {
	var auth *proxy.Auth
	if isolation != "" {
		auth = &proxy.Auth{User: isolation, Password: isolation}
	}
	dialer, err := proxy.SOCKS5("tcp", c.proxyAddress, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	return newHTTPClient(contextDial(dialer), c.timeout, onionTLSConfig(nil)), nil
}

// NewDirectHTTPClient returns a client that does not use Tor. It is the
// clearnet fallback transport and always verifies certificates.
func NewDirectHTTPClient(timeout time.Duration) *http.Client {
	var d net.Dialer
	return newHTTPClient(d.DialContext, timeout, &tls.Config{MinVersion: tls.VersionTLS12})
}

// onionTLSConfig skips certificate verification for .onion hosts only.
// Onion services authenticate through their address and most present
// self-signed certificates; every other host, exits included, is verified
// against roots (the system pool when nil).
func onionTLSConfig(roots *x509.CertPool) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true, //nolint:gosec // VerifyConnection checks every non-onion host
		VerifyConnection: func(cs tls.ConnectionState) error {
			if isOnionHost(cs.ServerName) {
				return nil
			}
			if len(cs.PeerCertificates) == 0 {
				return fmt.Errorf("tls: no certificate from %s", cs.ServerName)
			}
			opts := x509.VerifyOptions{
				Roots:         roots,
				DNSName:       cs.ServerName,
				Intermediates: x509.NewCertPool(),
			}
			for _, cert := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		},
	}
}

func isOnionHost(host string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSuffix(host, ".")), ".onion")
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// contextDial adapts a proxy.Dialer, preferring its DialContext.
func contextDial(d proxy.Dialer) dialFunc {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}
}

// newHTTPClient builds a client with a small connection pool and no
// transparent compression. Cookies are handled by the caller, so Jar is nil.
func newHTTPClient(dial dialFunc, timeout time.Duration, tlsConfig *tls.Config) *http.Client {
	transport := &http.Transport{
		DialContext:         dial,
		TLSClientConfig:     tlsConfig,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
		// Compressed sizes leak content (CRIME/BREACH).
		DisableCompression: true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// SOCKS5 protocol bytes used by CheckConnection.
const (
	socks5Version      = 0x05
	socks5AuthNone     = 0x00
	socks5CmdConnect   = 0x01
	socks5AddrTypeName = 0x03

	// handshakeOnion does not exist. The proxy only has to answer the CONNECT.
	handshakeOnion = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.onion"
)

// CheckConnection performs a raw SOCKS5 handshake plus a CONNECT to a
// non-existent onion address. Any well-formed CONNECT reply, success or
// failure, means a SOCKS5 proxy is listening.
func (c *Client) CheckConnection(ctx context.Context) ProxyStatus {
	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.proxyAddress)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(checkProxyTimeout)); err != nil {
		return ProxyStatusCannotConnect
	}

	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5AuthNone}); err != nil {
		return ProxyStatusCannotConnect
	}
	greeting := make([]byte, 2)
	if _, err := io.ReadFull(conn, greeting); err != nil {
		return readFailure(err)
	}
	if greeting[0] != socks5Version || greeting[1] != socks5AuthNone {
		return ProxyStatusWrongType
	}

	req := []byte{socks5Version, socks5CmdConnect, 0x00, socks5AddrTypeName, byte(len(handshakeOnion))}
	req = append(req, handshakeOnion...)
	req = append(req, 0x00, 80)
	if _, err := conn.Write(req); err != nil {
		return ProxyStatusCannotConnect
	}
	reply := make([]byte, 4)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return readFailure(err)
	}
	if reply[0] != socks5Version {
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}

func readFailure(err error) ProxyStatus {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ProxyStatusTimeout
	}
	return ProxyStatusWrongType
}
