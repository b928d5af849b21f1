package tor

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// serveOnce accepts a single connection on a loopback listener and hands it
// to handle. It returns the listener address.
func serveOnce(t *testing.T, handle func(net.Conn)) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
	if err != nil {
		t.Fatalf("failed to start mock server: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()
	return listener.Addr().String()
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "ipv4 with port", address: "127.0.0.1:9050"},
		{name: "hostname with port", address: "localhost:9050"},
		{name: "ipv6 with port", address: "[::1]:9050"},
		{name: "empty", address: "", wantErr: true},
		{name: "missing port", address: "127.0.0.1", wantErr: true},
		{name: "empty host", address: ":9050", wantErr: true},
		{name: "empty port", address: "127.0.0.1:", wantErr: true},
		{name: "port zero", address: "127.0.0.1:0", wantErr: true},
		{name: "port too large", address: "127.0.0.1:65536", wantErr: true},
		{name: "non numeric port", address: "127.0.0.1:tor", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := NewClient(tt.address, time.Second)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidProxyAddress) {
					t.Errorf("NewClient(%q) error = %v, want ErrInvalidProxyAddress", tt.address, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient(%q) unexpected error: %v", tt.address, err)
			}
			if c.ProxyAddress() != tt.address {
				t.Errorf("ProxyAddress() = %q, want %q", c.ProxyAddress(), tt.address)
			}
		})
	}
}

func TestNewHTTPClient(t *testing.T) {
	t.Parallel()

	c, err := NewClient("127.0.0.1:9050", 45*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	for _, isolation := range []string{"", "circuit-1"} {
		hc, err := c.NewHTTPClient(isolation)
		if err != nil {
			t.Fatalf("NewHTTPClient(%q) error = %v", isolation, err)
		}
		if hc.Timeout != 45*time.Second {
			t.Errorf("Timeout = %v, want 45s", hc.Timeout)
		}
		if hc.Jar != nil {
			t.Error("Jar should be nil; cookies are managed per identity")
		}
		if hc.CheckRedirect == nil {
			t.Error("CheckRedirect should limit redirects")
		}
		tr, ok := hc.Transport.(*http.Transport)
		if !ok {
			t.Fatalf("Transport = %T, want *http.Transport", hc.Transport)
		}
		if !tr.DisableCompression {
			t.Error("compression should be disabled")
		}
		if tr.TLSClientConfig == nil || tr.TLSClientConfig.VerifyConnection == nil {
			t.Error("TLS config should verify non-onion hosts itself")
		}
		if tr.MaxIdleConnsPerHost != 2 {
			t.Errorf("MaxIdleConnsPerHost = %d, want 2", tr.MaxIdleConnsPerHost)
		}
	}
}

func TestIsolatedClientSendsCredentials(t *testing.T) {
	t.Parallel()

	gotAuth := make(chan []byte, 1)
	addr := serveOnce(t, func(conn net.Conn) {
		buf := make([]byte, 16)
		n, _ := conn.Read(buf)
		if n < 2 {
			gotAuth <- nil
			return
		}
		gotAuth <- buf[2:n]
	})

	c, err := NewClient(addr, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	hc, err := c.NewHTTPClient("isolation-key")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.onion/", nil)
	if resp, err := hc.Do(req); err == nil {
		resp.Body.Close()
	}

	select {
	case methods := <-gotAuth:
		found := false
		for _, m := range methods {
			if m == 0x02 {
				found = true
			}
		}
		if !found {
			t.Errorf("greeting methods = %v, want username/password (0x02) offered", methods)
		}
	case <-ctx.Done():
		t.Fatal("proxy never received a greeting")
	}
}

func TestNewDirectHTTPClient(t *testing.T) {
	t.Parallel()

	hc := NewDirectHTTPClient(5 * time.Second)
	if hc.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", hc.Timeout)
	}
	if _, ok := hc.Transport.(*http.Transport); !ok {
		t.Errorf("Transport = %T, want *http.Transport", hc.Transport)
	}

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := hc.Get(srv.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("direct client accepted a self-signed certificate")
	}
	var unknown x509.UnknownAuthorityError
	if !errors.As(err, &unknown) {
		t.Errorf("err = %v, want an unknown authority error", err)
	}
}

func TestOnionTLSConfig(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	trusted := x509.NewCertPool()
	trusted.AddCert(srv.Certificate())
	onion, err := V3AddressFromPublicKey(bytes.Repeat([]byte{3}, 32))
	if err != nil {
		t.Fatal(err)
	}

	// Every request lands on srv whatever host it names.
	var d net.Dialer
	toServer := func(ctx context.Context, network, _ string) (net.Conn, error) {
		return d.DialContext(ctx, network, srv.Listener.Addr().String())
	}

	tests := []struct {
		name    string
		roots   *x509.CertPool
		url     string
		wantErr bool
	}{
		{name: "onion host is not verified", url: "https://" + onion + "/"},
		{name: "clearnet host with unknown authority", url: srv.URL, wantErr: true},
		{name: "clearnet host with trusted authority", roots: trusted, url: srv.URL},
		{name: "clearnet name mismatch", roots: trusted, url: "https://check.example.org/", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hc := newHTTPClient(toServer, 5*time.Second, onionTLSConfig(tt.roots))
			resp, err := hc.Get(tt.url)
			if err == nil {
				resp.Body.Close()
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("Get(%s) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestProxyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status  ProxyStatus
		str     string
		wantErr error
	}{
		{ProxyStatusOK, "OK", nil},
		{ProxyStatusWrongType, "wrong type (not Tor)", ErrProxyNotTor},
		{ProxyStatusCannotConnect, "cannot connect", ErrProxyCannotConnect},
		{ProxyStatusTimeout, "timeout", ErrProxyTimeout},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.str {
			t.Errorf("String() = %q, want %q", got, tt.str)
		}
		if err := tt.status.Error(); !errors.Is(err, tt.wantErr) {
			t.Errorf("Error() = %v, want %v", err, tt.wantErr)
		}
	}

	unknown := ProxyStatus(99)
	if unknown.String() != "unknown" || unknown.Error() == nil {
		t.Error("unknown status should stringify as unknown and return an error")
	}
}

func TestStatusErrorRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code int
		want bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
	}
	for _, tt := range tests {
		e := &StatusError{URL: "http://x.onion", StatusCode: tt.code}
		if got := e.Retryable(); got != tt.want {
			t.Errorf("Retryable(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestCheckConnection(t *testing.T) {
	t.Parallel()

	t.Run("nothing listening", func(t *testing.T) {
		t.Parallel()

		c, _ := NewClient("127.0.0.1:59999", time.Second)
		if got := c.CheckConnection(context.Background()); got != ProxyStatusCannotConnect {
			t.Errorf("CheckConnection() = %v, want %v", got, ProxyStatusCannotConnect)
		}
	})

	tests := []struct {
		name   string
		handle func(net.Conn)
		want   ProxyStatus
	}{
		{
			name: "http server",
			handle: func(conn net.Conn) {
				_, _ = conn.Read(make([]byte, 3))
				_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
			},
			want: ProxyStatusWrongType,
		},
		{
			name: "socks5 requiring auth",
			handle: func(conn net.Conn) {
				_, _ = conn.Read(make([]byte, 3))
				_, _ = conn.Write([]byte{0x05, 0xFF})
			},
			want: ProxyStatusWrongType,
		},
		{
			name: "socks5 answering connect",
			handle: func(conn net.Conn) {
				_, _ = conn.Read(make([]byte, 3))
				_, _ = conn.Write([]byte{0x05, 0x00})
				_, _ = conn.Read(make([]byte, 256))
				_, _ = conn.Write([]byte{0x05, 0x04, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
			},
			want: ProxyStatusOK,
		},
		{
			name: "wrong version in connect reply",
			handle: func(conn net.Conn) {
				_, _ = conn.Read(make([]byte, 3))
				_, _ = conn.Write([]byte{0x05, 0x00})
				_, _ = conn.Read(make([]byte, 256))
				_, _ = conn.Write([]byte{0x04, 0x00, 0x00, 0x01})
			},
			want: ProxyStatusWrongType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := NewClient(serveOnce(t, tt.handle), time.Second)
			if err != nil {
				t.Fatal(err)
			}
			if got := c.CheckConnection(context.Background()); got != tt.want {
				t.Errorf("CheckConnection() = %v, want %v", got, tt.want)
			}
		})
	}
}
