// Package throttle computes per-domain politeness delays and HTTP identities.
//
// The Manager keeps a DomainProfile per host with rolling response times and
// status codes. ComputeDelay turns those statistics into a delay. Every
// profile owns a rate.Limiter with a burst of one whose interval is reset to
// that delay on each dispatch, and AwaitTurn waits on it. Each domain has
// its own limiter and critical section, so a slow host never delays
// requests to another host.
package throttle

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nao1215/onionscout/internal/retry"
)

// Rolling window sizes and multipliers applied by ComputeDelay.
const (
	responseWindow      = 10
	statusWindow        = 20
	serverErrorLookback = 3
	rateLimitLookback   = 5
	maxErrorExponent    = 3

	serverErrorMultiplier = 1.5
	rateLimitMultiplier   = 2.0
)

// Default tuning values.
const (
	DefaultBaseDelay      = 2 * time.Second
	DefaultResponseFactor = 1.5
	DefaultErrorBackoff   = 2.0
	DefaultMaxDelay       = 30 * time.Second
	DefaultJitterFraction = 0.2
)

// Config tunes the delay formula.
type Config struct {
	// BaseDelay is the minimum delay between requests to one domain.
	BaseDelay time.Duration
	// ResponseFactor scales the average response time into a delay.
	ResponseFactor float64
	// ErrorBackoff is raised to min(consecutiveErrors, 3).
	ErrorBackoff float64
	// MaxDelay caps the delay before jitter.
	MaxDelay time.Duration
	// JitterFraction spreads the final delay by ±fraction.
	JitterFraction float64
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		BaseDelay:      DefaultBaseDelay,
		ResponseFactor: DefaultResponseFactor,
		ErrorBackoff:   DefaultErrorBackoff,
		MaxDelay:       DefaultMaxDelay,
		JitterFraction: DefaultJitterFraction,
	}
}

// DomainProfile holds the statistics of one domain.
type DomainProfile struct {
	// turn serializes AwaitTurn callers of this domain, so at most one
	// reservation is outstanding on limiter.
	turn    sync.Mutex
	limiter *rate.Limiter

	// mu guards every field below.
	mu                sync.Mutex
	baseDelay         time.Duration
	responseTimes     []time.Duration
	statusCodes       []int
	consecutiveErrors int
	requests          int
	lastRequest       time.Time
}

// Snapshot is a read-only copy of a DomainProfile.
type Snapshot struct {
	Domain            string
	ResponseTimes     []time.Duration
	StatusCodes       []int
	ConsecutiveErrors int
	Requests          int
	LastRequest       time.Time
}

// Manager owns the DomainProfile map.
type Manager struct {
	cfg       Config
	overrides map[string]time.Duration

	mu       sync.Mutex
	profiles map[string]*DomainProfile

	now    func() time.Time
	sleep  retry.Sleeper
	jitter func() float64
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithSleeper replaces the timer-based wait.
func WithSleeper(s retry.Sleeper) Option {
	return func(m *Manager) {
		m.sleep = s
	}
}

// WithJitterSource replaces the uniform [0,1) source used for jitter.
func WithJitterSource(fn func() float64) Option {
	return func(m *Manager) {
		m.jitter = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithDomainBaseDelay overrides BaseDelay for one domain.
func WithDomainBaseDelay(domain string, d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.overrides[strings.ToLower(domain)] = d
		}
	}
}

// NewManager creates a Manager. Zero fields of cfg fall back to DefaultConfig.
func NewManager(cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.ResponseFactor <= 0 {
		cfg.ResponseFactor = def.ResponseFactor
	}
	if cfg.ErrorBackoff < 1 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.JitterFraction < 0 || cfg.JitterFraction >= 1 {
		cfg.JitterFraction = def.JitterFraction
	}

	m := &Manager{
		cfg:       cfg,
		overrides: make(map[string]time.Duration),
		profiles:  make(map[string]*DomainProfile),
		now:       time.Now,
		sleep:     retry.Sleep,
		jitter:    rand.Float64, //nolint:gosec // jitter does not need a CSPRNG
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// DomainOf returns the lowercased host[:port] of rawURL, or rawURL itself
// when it does not parse as an absolute URL.
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Host)
}

// profile returns the DomainProfile of domain, creating it on first use.
func (m *Manager) profile(domain string) *DomainProfile {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[domain]
	if !ok {
		base := m.cfg.BaseDelay
		if d, ok := m.overrides[domain]; ok {
			base = d
		}
		p = &DomainProfile{baseDelay: base, limiter: rate.NewLimiter(rate.Every(base), 1)}
		m.profiles[domain] = p
	}
	return p
}

// lookup returns the profile of domain without creating it.
func (m *Manager) lookup(domain string) (*DomainProfile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[domain]
	return p, ok
}

// RecordOutcome appends a request outcome to the domain statistics.
// A zero responseTime or statusCode means the value is unknown. When the
// outcome raises the delay, the domain limiter slows down at once; a lower
// delay only applies from the next dispatch on.
func (m *Manager) RecordOutcome(rawURL string, responseTime time.Duration, statusCode int, isError bool) {
	p := m.profile(DomainOf(rawURL))
	now := m.now()

	p.mu.Lock()
	defer func() {
		limit := rate.Every(m.rawDelay(p))
		p.mu.Unlock()
		if limit < p.limiter.Limit() {
			p.limiter.SetLimitAt(m.now(), limit)
		}
	}()

	p.requests++
	if responseTime > 0 {
		p.responseTimes = appendWindow(p.responseTimes, responseTime, responseWindow)
	}
	if statusCode > 0 {
		p.statusCodes = appendWindow(p.statusCodes, statusCode, statusWindow)
	}
	if isError {
		p.consecutiveErrors++
	} else {
		p.consecutiveErrors = 0
	}
	if now.After(p.lastRequest) {
		p.lastRequest = now
	}
}

// appendWindow appends v and keeps the last size elements.
func appendWindow[T any](s []T, v T, size int) []T {
	s = append(s, v)
	if len(s) > size {
		s = append(s[:0:0], s[len(s)-size:]...)
	}
	return s
}

// ComputeDelay returns the current politeness delay for the domain of rawURL.
func (m *Manager) ComputeDelay(rawURL string) time.Duration {
	domain := DomainOf(rawURL)
	p, ok := m.lookup(domain)
	if !ok {
		base := m.cfg.BaseDelay
		if d, ok := m.overrides[domain]; ok {
			base = d
		}
		return m.applyJitter(base)
	}

	p.mu.Lock()
	delay := m.rawDelay(p)
	p.mu.Unlock()

	return m.applyJitter(delay)
}

// rawDelay applies the adaptive formula without jitter. p.mu must be held.
func (m *Manager) rawDelay(p *DomainProfile) time.Duration {
	delay := float64(p.baseDelay)

	if len(p.responseTimes) > 0 {
		var sum time.Duration
		for _, rt := range p.responseTimes {
			sum += rt
		}
		avg := float64(sum) / float64(len(p.responseTimes))
		delay = math.Max(delay, avg*m.cfg.ResponseFactor)
	}

	if p.consecutiveErrors > 0 {
		exp := min(p.consecutiveErrors, maxErrorExponent)
		delay *= math.Pow(m.cfg.ErrorBackoff, float64(exp))
	}

	if anyCode(lastN(p.statusCodes, serverErrorLookback), func(c int) bool { return c >= 500 }) {
		delay *= serverErrorMultiplier
	}
	if anyCode(lastN(p.statusCodes, rateLimitLookback), func(c int) bool { return c == 429 }) {
		delay *= rateLimitMultiplier
	}

	return min(time.Duration(delay), m.cfg.MaxDelay)
}

func lastN(codes []int, n int) []int {
	if len(codes) <= n {
		return codes
	}
	return codes[len(codes)-n:]
}

func anyCode(codes []int, pred func(int) bool) bool {
	for _, c := range codes {
		if pred(c) {
			return true
		}
	}
	return false
}

// applyJitter spreads d uniformly over [d*(1-f), d*(1+f)].
func (m *Manager) applyJitter(d time.Duration) time.Duration {
	f := m.cfg.JitterFraction
	if f == 0 {
		return d
	}
	factor := 1 + f*(2*m.jitter()-1)
	return time.Duration(float64(d) * factor)
}

// AwaitTurn blocks until the domain of rawURL may receive another request,
// then takes the slot. Callers for the same domain are served one at a
// time; other domains are unaffected. The first request to a domain never
// waits. It returns early with the sleeper's error when ctx ends, and the
// slot is handed back.
func (m *Manager) AwaitTurn(ctx context.Context, rawURL string) error {
	domain := DomainOf(rawURL)
	p := m.profile(domain)

	p.turn.Lock()
	defer p.turn.Unlock()

	now := m.now()
	r := p.limiter.ReserveN(now, 1)
	if wait := r.DelayFrom(now); wait > 0 {
		m.logger.DebugContext(ctx, "throttling request", "domain", domain, "delay", wait)
		if err := m.sleep(ctx, wait); err != nil {
			r.CancelAt(m.now())
			return err
		}
	}

	dispatched := m.now()
	p.mu.Lock()
	p.lastRequest = dispatched
	next := m.applyJitter(m.rawDelay(p))
	p.mu.Unlock()

	p.limiter.SetLimitAt(dispatched, rate.Every(next))
	return nil
}

// Profile returns a snapshot of the domain statistics, if any were recorded.
func (m *Manager) Profile(rawURL string) (Snapshot, bool) {
	domain := DomainOf(rawURL)
	p, ok := m.lookup(domain)
	if !ok {
		return Snapshot{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Domain:            domain,
		ResponseTimes:     append([]time.Duration(nil), p.responseTimes...),
		StatusCodes:       append([]int(nil), p.statusCodes...),
		ConsecutiveErrors: p.consecutiveErrors,
		Requests:          p.requests,
		LastRequest:       p.lastRequest,
	}, true
}

// Reset drops all domain profiles.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = make(map[string]*DomainProfile)
}
