package tor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/onionscout/internal/retry"
	"github.com/nao1215/onionscout/internal/throttle"
)

// Session defaults.
const (
	DefaultMaxCircuitAge         = 30 * time.Minute
	DefaultMaxRequestsPerCircuit = 30
	DefaultMaxBodySize           = 5 * 1024 * 1024
)

// Failure counts that change transport behaviour in PerformRequest.
const (
	rotateAfterFailures   = 2
	fallbackAfterFailures = 3
)

// State is the lifecycle state of the Tor session.
type State int

// Session states. A healthy manager moves NEW -> VALIDATING -> ACTIVE and
// cycles through ROTATING on every rotation. FAILED means the last
// validation failed; the next GetSession tries again.
const (
	StateNew State = iota
	StateValidating
	StateActive
	StateRotating
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateValidating:
		return "validating"
	case StateActive:
		return "active"
	case StateRotating:
		return "rotating"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transport names the network a session uses.
type Transport string

// Transports.
const (
	TransportTor      Transport = "tor"
	TransportClearnet Transport = "clearnet"
)

// Circuit is one isolated Tor session.
type Circuit struct {
	ID           string
	CreatedAt    time.Time
	RequestCount int
	Transport    Transport
}

// Session is what GetSession hands out: a client plus a snapshot of the
// circuit it belongs to.
type Session struct {
	Client  *http.Client
	Circuit Circuit
}

// Response is a fully read HTTP response.
type Response struct {
	URL          string
	StatusCode   int
	Header       http.Header
	Body         []byte
	ResponseTime time.Duration
	Transport    Transport
}

// RequestOptions tune one PerformRequest call.
type RequestOptions struct {
	// ForceClearnet skips Tor entirely.
	ForceClearnet bool
	// Header is added to the request after the identity headers.
	Header http.Header
}

// ClientFactory builds an HTTP client bound to one isolation key.
type ClientFactory func(isolation string) (*http.Client, error)

// OutcomeRecorder receives the outcome of every attempt.
// throttle.Manager implements it.
type OutcomeRecorder interface {
	RecordOutcome(rawURL string, responseTime time.Duration, statusCode int, isError bool)
}

// Throttle blocks until a request to the domain of rawURL is allowed.
// throttle.Manager implements it.
type Throttle interface {
	AwaitTurn(ctx context.Context, rawURL string) error
}

// IdentitySource supplies request headers and cookies.
// throttle.IdentityManager implements it.
type IdentitySource interface {
	Identity(rawURL string) throttle.Identity
}

// SessionConfig configures a SessionManager.
type SessionConfig struct {
	// TorEnabled routes requests through Tor. When false every request
	// uses the direct client.
	TorEnabled bool
	// FallbackEnabled allows the direct client when Tor fails.
	FallbackEnabled bool
	// MaxCircuitAge and MaxRequestsPerCircuit bound one circuit.
	MaxCircuitAge         time.Duration
	MaxRequestsPerCircuit int
	// Retry drives PerformRequest.
	Retry retry.Policy
	// Timeout applies to the direct client.
	Timeout time.Duration
	// MaxBodySize caps the bytes read from a response.
	MaxBodySize int64
}

// SessionManager owns the current circuit and performs requests on it.
// It is safe for concurrent use; rotation is serialized by one mutex.
type SessionManager struct {
	cfg SessionConfig

	newTorClient ClientFactory
	direct       *http.Client
	checker      CapabilityChecker
	recorder     OutcomeRecorder
	throttle     Throttle
	identities   IdentitySource

	now    func() time.Time
	sleep  retry.Sleeper
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	circuit   *Circuit
	torClient *http.Client
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithTorClient builds circuits from c.
func WithTorClient(c *Client) SessionOption {
	return func(m *SessionManager) {
		m.newTorClient = c.NewHTTPClient
	}
}

// WithClientFactory replaces the circuit client factory.
func WithClientFactory(f ClientFactory) SessionOption {
	return func(m *SessionManager) {
		m.newTorClient = f
	}
}

// WithDirectClient replaces the clearnet client.
func WithDirectClient(c *http.Client) SessionOption {
	return func(m *SessionManager) {
		m.direct = c
	}
}

// WithCapabilityChecker sets how fresh circuits are validated. A nil
// checker skips validation.
func WithCapabilityChecker(c CapabilityChecker) SessionOption {
	return func(m *SessionManager) {
		m.checker = c
	}
}

// WithOutcomeRecorder reports every attempt to r.
func WithOutcomeRecorder(r OutcomeRecorder) SessionOption {
	return func(m *SessionManager) {
		m.recorder = r
	}
}

// WithThrottle makes every attempt of PerformRequest, retries included,
// wait for its domain's turn on t.
func WithThrottle(t Throttle) SessionOption {
	return func(m *SessionManager) {
		m.throttle = t
	}
}

// WithIdentities applies per-request identities.
func WithIdentities(s IdentitySource) SessionOption {
	return func(m *SessionManager) {
		m.identities = s
	}
}

// WithSessionClock replaces time.Now.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		m.now = now
	}
}

// WithSessionSleeper replaces the backoff sleep.
func WithSessionSleeper(s retry.Sleeper) SessionOption {
	return func(m *SessionManager) {
		m.sleep = s
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(m *SessionManager) {
		m.logger = logger
	}
}

// NewSessionManager creates a SessionManager. Zero limits fall back to the
// package defaults. Without WithTorClient or WithClientFactory every Tor
// session fails with ErrTransportUnavailable.
func NewSessionManager(cfg SessionConfig, opts ...SessionOption) *SessionManager {
	if cfg.MaxCircuitAge <= 0 {
		cfg.MaxCircuitAge = DefaultMaxCircuitAge
	}
	if cfg.MaxRequestsPerCircuit <= 0 {
		cfg.MaxRequestsPerCircuit = DefaultMaxRequestsPerCircuit
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.Retry == (retry.Policy{}) {
		cfg.Retry = retry.DefaultPolicy()
	}

	m := &SessionManager{
		cfg:     cfg,
		checker: IsTorChecker{URL: DefaultCapabilityCheckURL},
		now:     time.Now,
		sleep:   retry.Sleep,
		state:   StateNew,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.direct == nil {
		m.direct = NewDirectHTTPClient(cfg.Timeout)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// State returns the current lifecycle state.
func (m *SessionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Circuit returns a copy of the current circuit, if one is active.
func (m *SessionManager) Circuit() (Circuit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.circuit == nil {
		return Circuit{}, false
	}
	return *m.circuit, true
}

// GetSession returns the session for the next request. Unless forceClearnet
// is set or Tor is disabled, the circuit is rotated first when it has served
// MaxRequestsPerCircuit requests or is MaxCircuitAge old. If a fresh circuit
// cannot be validated, the direct session is returned when fallback is
// enabled and ErrTransportUnavailable otherwise.
func (m *SessionManager) GetSession(ctx context.Context, forceClearnet bool) (Session, error) {
	if forceClearnet || !m.cfg.TorEnabled {
		return m.directSession(), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.needsRotationLocked() {
		if err := m.rotateLocked(ctx); err != nil {
			if m.cfg.FallbackEnabled {
				m.logger.WarnContext(ctx, "tor session unavailable, using direct transport", "error", err)
				return m.directSession(), nil
			}
			return Session{}, err
		}
	}

	m.circuit.RequestCount++
	return Session{Client: m.torClient, Circuit: *m.circuit}, nil
}

func (m *SessionManager) directSession() Session {
	return Session{
		Client:  m.direct,
		Circuit: Circuit{Transport: TransportClearnet},
	}
}

// needsRotationLocked reports whether the circuit is missing or spent.
// m.mu must be held.
func (m *SessionManager) needsRotationLocked() bool {
	if m.circuit == nil {
		return true
	}
	return m.circuit.RequestCount >= m.cfg.MaxRequestsPerCircuit ||
		m.now().Sub(m.circuit.CreatedAt) >= m.cfg.MaxCircuitAge
}

// Rotate replaces the current circuit with a fresh, validated one.
func (m *SessionManager) Rotate(ctx context.Context) error {
	if !m.cfg.TorEnabled {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotateLocked(ctx)
}

// rotateLocked builds and validates a new circuit. m.mu must be held, which
// keeps two callers from rotating at once.
func (m *SessionManager) rotateLocked(ctx context.Context) error {
	if m.circuit == nil && m.state != StateFailed {
		m.state = StateValidating
	} else {
		m.state = StateRotating
	}

	if m.newTorClient == nil {
		m.failLocked()
		return fmt.Errorf("%w: no tor client configured", ErrTransportUnavailable)
	}

	id := uuid.NewString()
	client, err := m.newTorClient(id)
	if err != nil {
		m.failLocked()
		return fmt.Errorf("%w: %w", ErrCircuitRotationFailed, err)
	}

	if m.checker != nil {
		if err := m.checker.Check(ctx, client); err != nil {
			client.CloseIdleConnections()
			m.failLocked()
			return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
		}
	}

	if m.torClient != nil {
		m.torClient.CloseIdleConnections()
	}
	m.torClient = client
	m.circuit = &Circuit{ID: id, CreatedAt: m.now(), Transport: TransportTor}
	m.state = StateActive
	m.logger.DebugContext(ctx, "tor circuit ready", "circuit", id)
	return nil
}

// failLocked drops the current circuit so the next GetSession retries.
func (m *SessionManager) failLocked() {
	if m.torClient != nil {
		m.torClient.CloseIdleConnections()
	}
	m.torClient = nil
	m.circuit = nil
	m.state = StateFailed
}

// Close releases idle connections of every client and forgets the circuit.
func (m *SessionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.torClient != nil {
		m.torClient.CloseIdleConnections()
	}
	m.direct.CloseIdleConnections()
	m.torClient = nil
	m.circuit = nil
	m.state = StateNew
	return nil
}

// PerformRequest sends one request with retries. Each attempt first waits
// for the domain's turn on the throttle, if one is set. The circuit is rotated
// after the second Tor failure, and from the third failure on the direct
// transport is used when fallback is enabled. Server errors and 429 are
// retried; other HTTP errors return *StatusError at once. When every attempt
// fails the error wraps ErrFallbackExhausted if both transports were tried,
// ErrRequestFailed otherwise.
func (m *SessionManager) PerformRequest(ctx context.Context, method, rawURL string, opts RequestOptions) (*Response, error) {
	useDirect := opts.ForceClearnet
	var current Transport
	tried := make(map[Transport]bool, 2)

	resp, err := retry.Do(ctx, m.cfg.Retry, func(ctx context.Context, _ int) (*Response, error) {
		if m.throttle != nil {
			if err := m.throttle.AwaitTurn(ctx, rawURL); err != nil {
				return nil, retry.Permanent(fmt.Errorf("throttle wait for %s: %w", rawURL, err))
			}
		}
		sess, err := m.GetSession(ctx, useDirect)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		current = sess.Circuit.Transport
		tried[current] = true
		return m.do(ctx, sess, method, rawURL, opts.Header)
	},
		retry.WithSleeper(m.sleep),
		retry.WithLogger(m.logger),
		retry.WithLabel(rawURL),
		retry.OnRetry(func(attempt int, _ time.Duration, _ error) {
			failures := attempt + 1
			if current == TransportTor && failures == rotateAfterFailures {
				if err := m.Rotate(ctx); err != nil {
					m.logger.WarnContext(ctx, "circuit rotation after failures failed", "url", rawURL, "error", err)
				}
			}
			if failures >= fallbackAfterFailures && m.cfg.FallbackEnabled && m.cfg.TorEnabled && !useDirect {
				m.logger.InfoContext(ctx, "switching to direct transport", "url", rawURL, "failures", failures)
				useDirect = true
			}
		}),
	)
	if err == nil {
		return resp, nil
	}

	switch {
	case errors.Is(err, ErrTransportUnavailable):
		return nil, err
	case tried[TransportTor] && tried[TransportClearnet]:
		return nil, fmt.Errorf("%w: %s: %w", ErrFallbackExhausted, rawURL, err)
	default:
		return nil, fmt.Errorf("%w: %s: %w", ErrRequestFailed, rawURL, err)
	}
}

// do sends one attempt on sess and reads the whole body.
func (m *SessionManager) do(ctx context.Context, sess Session, method, rawURL string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	var id throttle.Identity
	if m.identities != nil {
		id = m.identities.Identity(rawURL)
		id.Apply(req)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	start := m.now()
	resp, err := sess.Client.Do(req)
	elapsed := m.now().Sub(start)
	if err != nil {
		m.record(rawURL, elapsed, 0, true)
		return nil, err
	}
	defer resp.Body.Close()
	id.Store(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, m.cfg.MaxBodySize))
	if err != nil {
		m.record(rawURL, elapsed, resp.StatusCode, true)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		m.record(rawURL, elapsed, resp.StatusCode, true)
		se := &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
		if se.Retryable() {
			return nil, se
		}
		return nil, retry.Permanent(se)
	}

	m.record(rawURL, elapsed, resp.StatusCode, false)
	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &Response{
		URL:          finalURL,
		StatusCode:   resp.StatusCode,
		Header:       resp.Header,
		Body:         body,
		ResponseTime: elapsed,
		Transport:    sess.Circuit.Transport,
	}, nil
}

func (m *SessionManager) record(rawURL string, elapsed time.Duration, status int, isError bool) {
	if m.recorder != nil {
		m.recorder.RecordOutcome(rawURL, elapsed, status, isError)
	}
}
