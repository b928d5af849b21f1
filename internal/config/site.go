package config

import (
	"maps"
	"strings"
	"time"

	"github.com/nao1215/onionscout/internal/discovery"
	"github.com/nao1215/onionscout/internal/throttle"
)

// SiteConfig holds overrides for requests to one onion host.
type SiteConfig struct {
	// Cookie is sent with every request to the site.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers replace the generated identity headers of the same name.
	Headers map[string]string `yaml:"headers,omitempty"`

	// RateLimit overrides the base delay between requests to the site.
	RateLimit time.Duration `yaml:"rate_limit,omitempty"`
}

// Settings are the global options a config file may set. Nil fields keep
// the current value.
type Settings struct {
	TorProxyAddress         *string        `yaml:"tor_proxy,omitempty"`
	DiscoveryMode           *string        `yaml:"discovery_mode,omitempty"`
	CrawlDepth              *int           `yaml:"crawl_depth,omitempty"`
	LinkLimitPerPage        *int           `yaml:"link_limit_per_page,omitempty"`
	MaxCircuitAge           *time.Duration `yaml:"max_circuit_age,omitempty"`
	MaxRequestsPerCircuit   *int           `yaml:"max_requests_per_circuit,omitempty"`
	MaxRetries              *int           `yaml:"max_retries,omitempty"`
	ClearnetFallbackEnabled *bool          `yaml:"clearnet_fallback,omitempty"`
	ParallelCrawlingEnabled *bool          `yaml:"parallel_crawling,omitempty"`
	MaxCrawlerWorkers       *int           `yaml:"max_crawler_workers,omitempty"`
	DomainRateLimit         *time.Duration `yaml:"domain_rate_limit,omitempty"`
	RecrawlHours            *int           `yaml:"recrawl_hours,omitempty"`
	DirectorySitesLimit     *int           `yaml:"directory_sites_limit,omitempty"`
	SearchEnginesLimit      *int           `yaml:"search_engines_limit,omitempty"`
	BatchCrawlSize          *int           `yaml:"batch_crawl_size,omitempty"`
	SafetyThreshold         *int           `yaml:"safety_threshold,omitempty"`
	DBDir                   *string        `yaml:"db_dir,omitempty"`
	Schedule                *string        `yaml:"schedule,omitempty"`
}

// File represents the structure of the .onionscout configuration file.
type File struct {
	Settings Settings `yaml:"settings,omitempty"`

	// Engines replaces the built-in search engine query conventions.
	Engines []discovery.SearchEngine `yaml:"engines,omitempty"`

	// Defaults are merged into every entry of Sites.
	Defaults SiteConfig `yaml:"defaults,omitempty"`

	// Sites maps onion hosts (e.g. "example.onion") to their overrides.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`
}

// GetSiteConfig returns the configuration for a specific onion host,
// merged with the defaults.
func (cf *File) GetSiteConfig(host string) SiteConfig {
	result := cf.Defaults
	if result.Headers != nil {
		result.Headers = maps.Clone(result.Headers)
	}

	siteConfig, ok := cf.Sites[host]
	if !ok {
		siteConfig, ok = cf.Sites[strings.ToLower(host)]
	}
	if !ok {
		return result
	}
	if siteConfig.Cookie != "" {
		result.Cookie = siteConfig.Cookie
	}
	if siteConfig.RateLimit != 0 {
		result.RateLimit = siteConfig.RateLimit
	}
	if len(siteConfig.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string, len(siteConfig.Headers))
		}
		maps.Copy(result.Headers, siteConfig.Headers)
	}
	return result
}

// SiteOverrides returns the identity overrides of every configured site.
func (cf *File) SiteOverrides() map[string]throttle.SiteOverride {
	overrides := make(map[string]throttle.SiteOverride, len(cf.Sites))
	for host := range cf.Sites {
		sc := cf.GetSiteConfig(host)
		if sc.Cookie == "" && len(sc.Headers) == 0 {
			continue
		}
		overrides[strings.ToLower(host)] = throttle.SiteOverride{Cookie: sc.Cookie, Headers: sc.Headers}
	}
	return overrides
}

// RateLimits returns the base delay override of every configured site.
func (cf *File) RateLimits() map[string]time.Duration {
	limits := make(map[string]time.Duration)
	for host := range cf.Sites {
		if d := cf.GetSiteConfig(host).RateLimit; d > 0 {
			limits[strings.ToLower(host)] = d
		}
	}
	return limits
}

// Apply copies the settings and engines of the file into c and keeps the
// file for per-site lookups.
func (cf *File) Apply(c *Config) {
	s := cf.Settings
	setString(&c.TorProxyAddress, s.TorProxyAddress)
	setString(&c.DiscoveryMode, s.DiscoveryMode)
	setInt(&c.CrawlDepth, s.CrawlDepth)
	setInt(&c.LinkLimitPerPage, s.LinkLimitPerPage)
	setDuration(&c.MaxCircuitAge, s.MaxCircuitAge)
	setInt(&c.MaxRequestsPerCircuit, s.MaxRequestsPerCircuit)
	setInt(&c.MaxRetries, s.MaxRetries)
	setBool(&c.ClearnetFallbackEnabled, s.ClearnetFallbackEnabled)
	setBool(&c.ParallelCrawlingEnabled, s.ParallelCrawlingEnabled)
	setInt(&c.MaxCrawlerWorkers, s.MaxCrawlerWorkers)
	setDuration(&c.DomainRateLimit, s.DomainRateLimit)
	setInt(&c.RecrawlHours, s.RecrawlHours)
	setInt(&c.DirectorySitesLimit, s.DirectorySitesLimit)
	setInt(&c.SearchEnginesLimit, s.SearchEnginesLimit)
	setInt(&c.BatchCrawlSize, s.BatchCrawlSize)
	setInt(&c.SafetyThreshold, s.SafetyThreshold)
	setString(&c.DBDir, s.DBDir)
	setString(&c.Schedule, s.Schedule)

	if len(cf.Engines) > 0 {
		c.SearchEngines = cf.Engines
	}
	c.SiteConfigs = cf
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}
