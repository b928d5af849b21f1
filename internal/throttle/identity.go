package throttle

import (
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
)

// Header is one HTTP header in the order it was generated.
type Header struct {
	Key   string
	Value string
}

// Identity is the HTTP fingerprint presented to one request.
type Identity struct {
	// Headers are the request headers in randomized order.
	Headers []Header

	// Jar holds the cookies of the domain. It is shared across requests when
	// session persistence is enabled and fresh otherwise.
	Jar http.CookieJar
}

// Apply sets the identity headers and cookies on req.
// net/http writes headers in sorted key order, so the slice order only
// affects the order of Set calls.
func (id Identity) Apply(req *http.Request) {
	for _, h := range id.Headers {
		req.Header.Set(h.Key, h.Value)
	}
	if id.Jar != nil {
		for _, c := range id.Jar.Cookies(req.URL) {
			req.AddCookie(c)
		}
	}
}

// Store saves cookies set by resp into the identity jar.
func (id Identity) Store(resp *http.Response) {
	if id.Jar == nil || resp == nil || resp.Request == nil {
		return
	}
	if cookies := resp.Cookies(); len(cookies) > 0 {
		id.Jar.SetCookies(resp.Request.URL, cookies)
	}
}

// Get returns the value of key, or "".
func (id Identity) Get(key string) string {
	for _, h := range id.Headers {
		if strings.EqualFold(h.Key, key) {
			return h.Value
		}
	}
	return ""
}

// SiteOverride pins headers and a cookie for one domain.
type SiteOverride struct {
	Cookie  string
	Headers map[string]string
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/119.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/118.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:109.0) Gecko/20100101 Firefox/119.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/119.0",
	"Mozilla/5.0 (Windows NT 10.0; rv:109.0) Gecko/20100101 Firefox/115.0",
	"Mozilla/5.0 (Windows NT 10.0; rv:102.0) Gecko/20100101 Firefox/102.0",
}

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9",
	"en-CA,en;q=0.9,fr-CA;q=0.8",
	"en;q=0.9",
	"en-US,en;q=0.5",
	"fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7",
	"de-DE,de;q=0.9,en-US;q=0.8,en;q=0.7",
	"es-ES,es;q=0.9,en-US;q=0.8,en;q=0.7",
}

var acceptHeaders = []string{
	"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
}

var (
	fetchModes = []string{"navigate", "cors", "no-cors"}
	fetchSites = []string{"none", "same-origin", "same-site", "cross-site"}
	fetchDests = []string{"document", "empty", "object"}
	cacheModes = []string{"max-age=0", "no-cache"}
)

// browserProfile is the per-domain set of header choices.
type browserProfile struct {
	userAgent      string
	acceptLanguage string
	accept         string
	upgradeInsec   bool
	doNotTrack     bool
	fetchMode      string
	fetchSite      string
	fetchDest      string
}

// IdentityManager hands out request identities.
type IdentityManager struct {
	persistent bool
	overrides  map[string]SiteOverride

	mu       sync.Mutex
	rng      *rand.Rand
	profiles map[string]*browserProfile
	jars     map[string]http.CookieJar
}

// IdentityOption configures an IdentityManager.
type IdentityOption func(*IdentityManager)

// WithSiteOverrides pins headers and cookies per domain.
func WithSiteOverrides(overrides map[string]SiteOverride) IdentityOption {
	return func(m *IdentityManager) {
		for domain, o := range overrides {
			m.overrides[strings.ToLower(domain)] = o
		}
	}
}

// WithRandSource seeds header selection, mainly for tests.
func WithRandSource(src rand.Source) IdentityOption {
	return func(m *IdentityManager) {
		m.rng = rand.New(src) //nolint:gosec // fingerprint variation only
	}
}

// NewIdentityManager creates an IdentityManager. With persistent set, every
// domain keeps one header profile and one cookie jar for the process
// lifetime; otherwise every call yields fresh random headers and no jar.
func NewIdentityManager(persistent bool, opts ...IdentityOption) *IdentityManager {
	m := &IdentityManager{
		persistent: persistent,
		overrides:  make(map[string]SiteOverride),
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), //nolint:gosec // fingerprint variation only
		profiles:   make(map[string]*browserProfile),
		jars:       make(map[string]http.CookieJar),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Identity returns the identity to use for a request to rawURL.
func (m *IdentityManager) Identity(rawURL string) Identity {
	domain := DomainOf(rawURL)

	m.mu.Lock()
	defer m.mu.Unlock()

	var headers []Header
	var jar http.CookieJar
	if m.persistent {
		p, ok := m.profiles[domain]
		if !ok {
			p = m.newProfile()
			m.profiles[domain] = p
		}
		headers = p.headers()
		jar = m.jarFor(domain)
	} else {
		headers = m.randomHeaders()
	}

	if o, ok := m.overrides[domain]; ok {
		headers = applyOverride(headers, o)
		if o.Cookie != "" {
			if jar == nil {
				jar = newJar()
			}
			seedCookies(jar, rawURL, o.Cookie)
		}
	}

	m.rng.Shuffle(len(headers), func(i, j int) {
		headers[i], headers[j] = headers[j], headers[i]
	})

	return Identity{Headers: headers, Jar: jar}
}

// Forget drops the persisted profile and cookies of the domain of rawURL.
func (m *IdentityManager) Forget(rawURL string) {
	domain := DomainOf(rawURL)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, domain)
	delete(m.jars, domain)
}

func (m *IdentityManager) pick(values []string) string {
	return values[m.rng.IntN(len(values))]
}

func (m *IdentityManager) newProfile() *browserProfile {
	return &browserProfile{
		userAgent:      m.pick(userAgents),
		acceptLanguage: m.pick(acceptLanguages),
		accept:         m.pick(acceptHeaders),
		upgradeInsec:   m.rng.Float64() > 0.2,
		doNotTrack:     m.rng.Float64() > 0.8,
		fetchMode:      m.pick(fetchModes),
		fetchSite:      m.pick(fetchSites),
		fetchDest:      m.pick(fetchDests),
	}
}

func (p *browserProfile) headers() []Header {
	h := []Header{
		{Key: "User-Agent", Value: p.userAgent},
		{Key: "Accept", Value: p.accept},
		{Key: "Accept-Language", Value: p.acceptLanguage},
		{Key: "Sec-Fetch-Mode", Value: p.fetchMode},
		{Key: "Sec-Fetch-Site", Value: p.fetchSite},
		{Key: "Sec-Fetch-Dest", Value: p.fetchDest},
	}
	if p.upgradeInsec {
		h = append(h, Header{Key: "Upgrade-Insecure-Requests", Value: "1"})
	}
	if p.doNotTrack {
		h = append(h, Header{Key: "DNT", Value: "1"})
	}
	return h
}

func (m *IdentityManager) randomHeaders() []Header {
	h := []Header{
		{Key: "User-Agent", Value: m.pick(userAgents)},
		{Key: "Accept", Value: m.pick(acceptHeaders)},
		{Key: "Accept-Language", Value: m.pick(acceptLanguages)},
		{Key: "Cache-Control", Value: m.pick(cacheModes)},
	}
	if m.rng.Float64() > 0.2 {
		h = append(h, Header{Key: "Upgrade-Insecure-Requests", Value: "1"})
	}
	if m.rng.Float64() > 0.8 {
		h = append(h, Header{Key: "DNT", Value: "1"})
	}
	if m.rng.Float64() > 0.2 {
		h = append(h,
			Header{Key: "Sec-Fetch-Mode", Value: m.pick(fetchModes)},
			Header{Key: "Sec-Fetch-Site", Value: m.pick(fetchSites)},
			Header{Key: "Sec-Fetch-Dest", Value: m.pick(fetchDests)},
		)
		if m.rng.Float64() > 0.5 {
			h = append(h, Header{Key: "Sec-Fetch-User", Value: "?1"})
		}
	}
	return h
}

// jarFor returns the persistent jar of domain. m.mu must be held.
func (m *IdentityManager) jarFor(domain string) http.CookieJar {
	jar, ok := m.jars[domain]
	if !ok {
		jar = newJar()
		m.jars[domain] = jar
	}
	return jar
}

func newJar() http.CookieJar {
	jar, _ := cookiejar.New(nil) //nolint:errcheck // cookiejar.New only fails with invalid options
	return jar
}

// applyOverride replaces or appends the pinned headers.
func applyOverride(headers []Header, o SiteOverride) []Header {
	for key, value := range o.Headers {
		replaced := false
		for i := range headers {
			if strings.EqualFold(headers[i].Key, key) {
				headers[i].Value = value
				replaced = true
				break
			}
		}
		if !replaced {
			headers = append(headers, Header{Key: key, Value: value})
		}
	}
	return headers
}

// seedCookies parses a "a=1; b=2" cookie string into jar.
func seedCookies(jar http.CookieJar, rawURL, raw string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	cookies, err := http.ParseCookie(raw)
	if err != nil {
		return
	}
	jar.SetCookies(u, cookies)
}
