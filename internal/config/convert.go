package config

import (
	"time"

	"github.com/nao1215/onionscout/internal/discovery"
	"github.com/nao1215/onionscout/internal/retry"
	"github.com/nao1215/onionscout/internal/throttle"
	"github.com/nao1215/onionscout/internal/tor"
)

// RetryPolicy returns the retry policy shared by the session manager and
// the discovery engine.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:    c.MaxRetries,
		InitialDelay:  c.RetryInitialDelay,
		BackoffFactor: c.RetryBackoffFactor,
		MaxJitter:     c.RetryMaxJitter,
	}
}

// SessionConfig returns the transport session settings.
func (c *Config) SessionConfig() tor.SessionConfig {
	return tor.SessionConfig{
		TorEnabled:            c.TorEnabled,
		FallbackEnabled:       c.ClearnetFallbackEnabled,
		MaxCircuitAge:         c.MaxCircuitAge,
		MaxRequestsPerCircuit: c.MaxRequestsPerCircuit,
		Retry:                 c.RetryPolicy(),
		Timeout:               c.Timeout,
		MaxBodySize:           c.MaxBodySize,
	}
}

// ThrottleConfig returns the adaptive throttle tuning.
func (c *Config) ThrottleConfig() throttle.Config {
	tc := throttle.DefaultConfig()
	tc.BaseDelay = c.DomainRateLimit
	tc.MaxDelay = c.MaxThrottleDelay
	return tc
}

// ThrottleOptions returns the per-site rate limits of the config file.
func (c *Config) ThrottleOptions() []throttle.Option {
	if c.SiteConfigs == nil {
		return nil
	}
	var opts []throttle.Option
	for domain, d := range c.SiteConfigs.RateLimits() {
		opts = append(opts, throttle.WithDomainBaseDelay(domain, d))
	}
	return opts
}

// SiteOverrides returns the per-site cookies and headers of the config file.
func (c *Config) SiteOverrides() map[string]throttle.SiteOverride {
	if c.SiteConfigs == nil {
		return nil
	}
	return c.SiteConfigs.SiteOverrides()
}

// EngineConfig returns the discovery engine settings.
func (c *Config) EngineConfig() discovery.Config {
	ec := discovery.DefaultConfig()
	if mode, err := discovery.ParseMode(c.DiscoveryMode); err == nil {
		ec.Mode = mode
	}
	ec.CrawlDepth = c.CrawlDepth
	ec.LinkLimitPerPage = c.LinkLimitPerPage
	ec.ParallelEnabled = c.ParallelCrawlingEnabled
	ec.ClearnetFallbackEnabled = c.ClearnetFallbackEnabled
	ec.DirectorySitesLimit = c.DirectorySitesLimit
	ec.SearchEnginesLimit = c.SearchEnginesLimit
	ec.BatchCrawlSize = c.BatchCrawlSize
	ec.RecrawlAge = time.Duration(c.RecrawlHours) * time.Hour
	ec.ContentPreviewLength = c.ContentPreviewLength
	ec.SafetyThreshold = c.SafetyThreshold
	ec.ConsecutiveErrorThreshold = c.ConsecutiveErrorThreshold
	ec.CrawlDelayMin = c.CrawlDelayMin
	ec.CrawlDelayMax = c.CrawlDelayMax
	ec.Retry = c.RetryPolicy()
	ec.StrictAddresses = c.StrictAddresses
	ec.ClearnetMaxResults = c.ClearnetMaxResults
	if len(c.SearchEngines) > 0 {
		ec.SearchEngines = c.SearchEngines
	}
	return ec
}
