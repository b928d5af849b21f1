package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nao1215/onionscout/internal/discovery"
)

// TestNewConfig pins the defaults so that changing one is a deliberate act.
func TestNewConfig(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()

	t.Run("default TorProxyAddress is 127.0.0.1:9050", func(t *testing.T) {
		t.Parallel()
		if cfg.TorProxyAddress != "127.0.0.1:9050" {
			t.Errorf("expected TorProxyAddress to be '127.0.0.1:9050', got '%s'", cfg.TorProxyAddress)
		}
	})

	t.Run("default Timeout is 120 seconds", func(t *testing.T) {
		t.Parallel()
		if cfg.Timeout != 120*time.Second {
			t.Errorf("expected Timeout to be 120s, got %v", cfg.Timeout)
		}
	})

	t.Run("default discovery mode is passive", func(t *testing.T) {
		t.Parallel()
		if cfg.DiscoveryMode != "passive" {
			t.Errorf("expected passive, got %q", cfg.DiscoveryMode)
		}
	})

	t.Run("circuit limits are 30 minutes and 30 requests", func(t *testing.T) {
		t.Parallel()
		if cfg.MaxCircuitAge != 30*time.Minute || cfg.MaxRequestsPerCircuit != 30 {
			t.Errorf("got %v / %d", cfg.MaxCircuitAge, cfg.MaxRequestsPerCircuit)
		}
	})

	t.Run("phase limits are 5, 3 and 15", func(t *testing.T) {
		t.Parallel()
		if cfg.DirectorySitesLimit != 5 || cfg.SearchEnginesLimit != 3 || cfg.BatchCrawlSize != 15 {
			t.Errorf("got %d/%d/%d", cfg.DirectorySitesLimit, cfg.SearchEnginesLimit, cfg.BatchCrawlSize)
		}
	})

	t.Run("fallback and parallel crawling are enabled", func(t *testing.T) {
		t.Parallel()
		if !cfg.ClearnetFallbackEnabled || !cfg.ParallelCrawlingEnabled {
			t.Error("expected clearnet fallback and parallel crawling to be enabled")
		}
	})

	t.Run("embedded Tor is off", func(t *testing.T) {
		t.Parallel()
		if cfg.UseEmbeddedTor {
			t.Error("expected UseEmbeddedTor to be false")
		}
	})

	t.Run("defaults are valid", func(t *testing.T) {
		t.Parallel()
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected defaults to validate, got %v", err)
		}
	})
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{name: "defaults", modify: func(*Config) {}},
		{name: "aggressive mode", modify: func(c *Config) { c.DiscoveryMode = "aggressive" }},
		{name: "unknown mode", modify: func(c *Config) { c.DiscoveryMode = "stealth" }, want: ErrInvalidDiscoveryMode},
		{name: "zero timeout", modify: func(c *Config) { c.Timeout = 0 }, want: ErrInvalidTimeout},
		{name: "negative depth", modify: func(c *Config) { c.CrawlDepth = -1 }, want: ErrInvalidCrawlDepth},
		{name: "zero depth", modify: func(c *Config) { c.CrawlDepth = 0 }},
		{name: "zero link limit", modify: func(c *Config) { c.LinkLimitPerPage = 0 }, want: ErrInvalidLinkLimit},
		{name: "zero circuit age", modify: func(c *Config) { c.MaxCircuitAge = 0 }, want: ErrInvalidCircuitLimits},
		{name: "zero circuit requests", modify: func(c *Config) { c.MaxRequestsPerCircuit = 0 }, want: ErrInvalidCircuitLimits},
		{name: "backoff below one", modify: func(c *Config) { c.RetryBackoffFactor = 0.5 }, want: ErrInvalidRetryPolicy},
		{name: "negative retries", modify: func(c *Config) { c.MaxRetries = -1 }, want: ErrInvalidRetryPolicy},
		{name: "zero workers", modify: func(c *Config) { c.MaxCrawlerWorkers = 0 }, want: ErrInvalidWorkers},
		{name: "rate limit above max delay", modify: func(c *Config) { c.DomainRateLimit = time.Minute }, want: ErrInvalidRateLimit},
		{name: "inverted crawl delay", modify: func(c *Config) { c.CrawlDelayMin = 10 * time.Second }, want: ErrInvalidCrawlDelay},
		{name: "negative recrawl hours", modify: func(c *Config) { c.RecrawlHours = -1 }, want: ErrInvalidRecrawlHours},
		{name: "zero batch size", modify: func(c *Config) { c.BatchCrawlSize = 0 }, want: ErrInvalidPhaseLimit},
		{name: "safety threshold 11", modify: func(c *Config) { c.SafetyThreshold = 11 }, want: ErrInvalidSafetyThreshold},
		{name: "negative body size", modify: func(c *Config) { c.MaxBodySize = -1 }, want: ErrInvalidMaxBodySize},
		{
			name:   "json and markdown both enabled",
			modify: func(c *Config) { c.JSONReport, c.MarkdownReport = true, true },
			want:   ErrConflictingReportFormats,
		},
		{name: "markdown only", modify: func(c *Config) { c.MarkdownReport = true }},
		{name: "valid schedule", modify: func(c *Config) { c.Schedule = "0 */6 * * *" }},
		{name: "invalid schedule", modify: func(c *Config) { c.Schedule = "every hour" }, want: ErrInvalidSchedule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := NewConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFileGetSiteConfig(t *testing.T) {
	t.Parallel()

	t.Run("returns defaults when site not found", func(t *testing.T) {
		t.Parallel()

		file := &File{
			Defaults: SiteConfig{Cookie: "default_cookie=abc", RateLimit: 3 * time.Second},
			Sites:    map[string]SiteConfig{},
		}

		cfg := file.GetSiteConfig("unknown.onion")
		if cfg.Cookie != "default_cookie=abc" {
			t.Errorf("expected default cookie, got %q", cfg.Cookie)
		}
		if cfg.RateLimit != 3*time.Second {
			t.Errorf("expected default rate limit, got %v", cfg.RateLimit)
		}
	})

	t.Run("site values override defaults", func(t *testing.T) {
		t.Parallel()

		file := &File{
			Defaults: SiteConfig{Cookie: "default_cookie=abc", RateLimit: 3 * time.Second},
			Sites: map[string]SiteConfig{
				"example.onion": {Cookie: "session=xyz", RateLimit: 10 * time.Second},
			},
		}

		cfg := file.GetSiteConfig("example.onion")
		if cfg.Cookie != "session=xyz" {
			t.Errorf("expected site cookie, got %q", cfg.Cookie)
		}
		if cfg.RateLimit != 10*time.Second {
			t.Errorf("expected site rate limit, got %v", cfg.RateLimit)
		}
	})

	t.Run("merges headers from defaults and site", func(t *testing.T) {
		t.Parallel()

		file := &File{
			Defaults: SiteConfig{Headers: map[string]string{"X-Default": "value1", "Authorization": "default-token"}},
			Sites: map[string]SiteConfig{
				"example.onion": {Headers: map[string]string{"X-Custom": "value2", "Authorization": "site-token"}},
			},
		}

		cfg := file.GetSiteConfig("example.onion")
		if cfg.Headers["X-Default"] != "value1" || cfg.Headers["X-Custom"] != "value2" {
			t.Errorf("expected merged headers, got %v", cfg.Headers)
		}
		if cfg.Headers["Authorization"] != "site-token" {
			t.Errorf("expected site token to override, got %q", cfg.Headers["Authorization"])
		}
		if file.Defaults.Headers["Authorization"] != "default-token" {
			t.Error("merging must not modify the defaults")
		}
	})

	t.Run("host lookup is case-insensitive", func(t *testing.T) {
		t.Parallel()

		file := &File{Sites: map[string]SiteConfig{"example.onion": {Cookie: "a=b"}}}
		if got := file.GetSiteConfig("EXAMPLE.onion").Cookie; got != "a=b" {
			t.Errorf("expected site cookie, got %q", got)
		}
	})

	t.Run("nil sites map", func(t *testing.T) {
		t.Parallel()

		file := &File{Defaults: SiteConfig{Cookie: "x=y"}}
		if got := file.GetSiteConfig("any.onion").Cookie; got != "x=y" {
			t.Errorf("expected default cookie, got %q", got)
		}
	})
}

func TestFileSiteOverridesAndRateLimits(t *testing.T) {
	t.Parallel()

	file := &File{
		Defaults: SiteConfig{Headers: map[string]string{"Accept-Language": "de"}},
		Sites: map[string]SiteConfig{
			"Forum.onion": {Cookie: "sid=1"},
			"slow.onion":  {RateLimit: 8 * time.Second},
		},
	}

	overrides := file.SiteOverrides()
	forum, ok := overrides["forum.onion"]
	if !ok {
		t.Fatalf("expected lowercase key forum.onion, got %v", overrides)
	}
	if forum.Cookie != "sid=1" || forum.Headers["Accept-Language"] != "de" {
		t.Errorf("unexpected override %+v", forum)
	}
	if _, ok := overrides["slow.onion"]; !ok {
		t.Error("default headers should give slow.onion an override too")
	}

	limits := file.RateLimits()
	if len(limits) != 1 || limits["slow.onion"] != 8*time.Second {
		t.Errorf("unexpected rate limits %v", limits)
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("returns ErrConfigNotFound for non-existent file", func(t *testing.T) {
		t.Parallel()

		cfg, err := LoadConfigFile("/nonexistent/path/.onionscout")
		if !errors.Is(err, ErrConfigNotFound) {
			t.Fatalf("expected ErrConfigNotFound, got: %v", err)
		}
		if cfg != nil {
			t.Error("expected nil config when file not found")
		}
	})

	t.Run("loads settings, engines and sites", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), ".onionscout")
		content := `settings:
  discovery_mode: aggressive
  crawl_depth: 3
  clearnet_fallback: false
  domain_rate_limit: 4s
engines:
  - name: haystak
    match: haystak
    template: /?q={query}
defaults:
  cookie: "default=abc"
sites:
  example.onion:
    cookie: "session=xyz"
    rate_limit: 10s
    headers:
      Authorization: "Bearer token"
`
		if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		file, err := LoadConfigFile(configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		cfg := NewConfig()
		file.Apply(cfg)

		if cfg.DiscoveryMode != "aggressive" {
			t.Errorf("expected aggressive, got %q", cfg.DiscoveryMode)
		}
		if cfg.CrawlDepth != 3 {
			t.Errorf("expected depth 3, got %d", cfg.CrawlDepth)
		}
		if cfg.ClearnetFallbackEnabled {
			t.Error("expected clearnet fallback to be disabled by the file")
		}
		if cfg.DomainRateLimit != 4*time.Second {
			t.Errorf("expected 4s rate limit, got %v", cfg.DomainRateLimit)
		}
		if cfg.LinkLimitPerPage != DefaultLinkLimitPerPage {
			t.Errorf("unset settings must keep defaults, got %d", cfg.LinkLimitPerPage)
		}
		if len(cfg.SearchEngines) != 1 || cfg.SearchEngines[0].Template != "/?q={query}" {
			t.Errorf("unexpected engines %+v", cfg.SearchEngines)
		}
		if cfg.SiteConfigs != file {
			t.Error("expected the file to be kept for per-site lookups")
		}

		site := file.GetSiteConfig("example.onion")
		if site.Headers["Authorization"] != "Bearer token" || site.RateLimit != 10*time.Second {
			t.Errorf("unexpected site config %+v", site)
		}
	})

	t.Run("returns error for invalid YAML", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), ".onionscout")
		if err := os.WriteFile(configPath, []byte(`invalid: yaml: content: [}`), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		if _, err := LoadConfigFile(configPath); err == nil {
			t.Error("expected error for invalid YAML")
		}
	})

	t.Run("initializes nil Sites map", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), ".onionscout")
		if err := os.WriteFile(configPath, []byte("defaults:\n  cookie: a=b\n"), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		cfg, err := LoadConfigFile(configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Sites == nil {
			t.Error("expected Sites map to be initialized")
		}
	})
}

func TestFindConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("returns explicit path if exists", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), "custom.yaml")
		if err := os.WriteFile(configPath, []byte("defaults: {}"), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		if result := FindConfigFile(configPath); result != configPath {
			t.Errorf("expected %q, got %q", configPath, result)
		}
	})

	t.Run("returns empty for non-existent explicit path", func(t *testing.T) {
		t.Parallel()

		if result := FindConfigFile("/nonexistent/path/config.yaml"); result != "" {
			t.Errorf("expected empty string, got %q", result)
		}
	})
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	lookup := func(env map[string]string) LookupFunc {
		return func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		}
	}

	t.Run("overrides typed values", func(t *testing.T) {
		t.Parallel()

		cfg := NewConfig()
		err := cfg.ApplyEnv(lookup(map[string]string{
			"ONIONSCOUT_DISCOVERY_MODE":    "active",
			"ONIONSCOUT_CRAWL_DEPTH":       "4",
			"ONIONSCOUT_CLEARNET_FALLBACK": "false",
			"ONIONSCOUT_TIMEOUT":           "90",
			"ONIONSCOUT_MAX_CIRCUIT_AGE":   "10m",
			"TAVILY_API_KEY":               "tvly-secret",
		}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.DiscoveryMode != "active" || cfg.CrawlDepth != 4 {
			t.Errorf("got mode %q depth %d", cfg.DiscoveryMode, cfg.CrawlDepth)
		}
		if cfg.ClearnetFallbackEnabled {
			t.Error("expected clearnet fallback to be disabled")
		}
		if cfg.Timeout != 90*time.Second {
			t.Errorf("bare seconds should parse, got %v", cfg.Timeout)
		}
		if cfg.MaxCircuitAge != 10*time.Minute {
			t.Errorf("expected 10m, got %v", cfg.MaxCircuitAge)
		}
		if cfg.TavilyAPIKey != "tvly-secret" {
			t.Errorf("expected the Tavily key, got %q", cfg.TavilyAPIKey)
		}
	})

	t.Run("empty values keep the current setting", func(t *testing.T) {
		t.Parallel()

		cfg := NewConfig()
		if err := cfg.ApplyEnv(lookup(map[string]string{"ONIONSCOUT_TOR_PROXY": ""})); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.TorProxyAddress != DefaultTorProxyAddress {
			t.Errorf("expected default proxy, got %q", cfg.TorProxyAddress)
		}
	})

	t.Run("unparsable value returns ErrInvalidEnv", func(t *testing.T) {
		t.Parallel()

		cfg := NewConfig()
		err := cfg.ApplyEnv(lookup(map[string]string{"ONIONSCOUT_MAX_RETRIES": "many"}))
		if !errors.Is(err, ErrInvalidEnv) {
			t.Errorf("expected ErrInvalidEnv, got %v", err)
		}
	})
}

func TestLoadEnv(t *testing.T) {
	t.Run("missing file is ignored", func(t *testing.T) {
		if err := LoadEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("does not override existing variables", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		if err := os.WriteFile(path, []byte("ONIONSCOUT_SCHEDULE=@hourly\n"), 0600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("ONIONSCOUT_SCHEDULE", "0 * * * *")

		if err := LoadEnv(path); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := os.Getenv("ONIONSCOUT_SCHEDULE"); got != "0 * * * *" {
			t.Errorf("expected the existing value, got %q", got)
		}
	})
}

func TestConversions(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.DiscoveryMode = "aggressive"
	cfg.RecrawlHours = 12
	cfg.MaxRetries = 2
	cfg.DomainRateLimit = 5 * time.Second
	cfg.SiteConfigs = &File{Sites: map[string]SiteConfig{"slow.onion": {RateLimit: 9 * time.Second}}}

	ec := cfg.EngineConfig()
	if ec.Mode != discovery.ModeAggressive {
		t.Errorf("expected aggressive mode, got %q", ec.Mode)
	}
	if ec.RecrawlAge != 12*time.Hour {
		t.Errorf("expected 12h recrawl age, got %v", ec.RecrawlAge)
	}
	if ec.Retry.MaxRetries != 2 {
		t.Errorf("expected 2 retries, got %d", ec.Retry.MaxRetries)
	}
	if len(ec.SearchEngines) == 0 {
		t.Error("expected the built-in search engines when none are configured")
	}

	sc := cfg.SessionConfig()
	if sc.MaxRequestsPerCircuit != 30 || sc.Retry.MaxRetries != 2 || !sc.FallbackEnabled {
		t.Errorf("unexpected session config %+v", sc)
	}

	if tc := cfg.ThrottleConfig(); tc.BaseDelay != 5*time.Second || tc.MaxDelay != DefaultMaxThrottleDelay {
		t.Errorf("unexpected throttle config %+v", tc)
	}
	if opts := cfg.ThrottleOptions(); len(opts) != 1 {
		t.Errorf("expected one per-site option, got %d", len(opts))
	}
}

func TestXDGDirs(t *testing.T) {
	t.Parallel()

	for name, dir := range map[string]string{
		"data":   XDGDataDir(),
		"config": XDGConfigDir(),
		"cache":  XDGCacheDir(),
	} {
		if dir == "" {
			t.Errorf("expected non-empty XDG %s dir", name)
		}
		if filepath.Base(dir) != AppName {
			t.Errorf("expected %s dir to end in %s, got %s", name, AppName, dir)
		}
	}
}
