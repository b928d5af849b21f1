package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/robfig/cron/v3"

	"github.com/nao1215/onionscout/internal/discovery"
)

// Default configuration values.
const (
	// DefaultTorProxyAddress is the standard Tor SOCKS5 proxy address.
	DefaultTorProxyAddress = "127.0.0.1:9050"

	// DefaultTimeout is generous because Tor connections cross several relays.
	DefaultTimeout = 120 * time.Second

	// DefaultTorStartupTimeout bounds the bootstrap of the embedded daemon.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultCapabilityCheckURL answers whether a request arrived over Tor.
	DefaultCapabilityCheckURL = "https://check.torproject.org/api/ip"

	// DefaultMaxBodySize limits how much of a response is read.
	DefaultMaxBodySize = 5 * 1024 * 1024

	DefaultDiscoveryMode    = string(discovery.ModePassive)
	DefaultCrawlDepth       = 2
	DefaultLinkLimitPerPage = 5

	DefaultMaxCircuitAge         = 30 * time.Minute
	DefaultMaxRequestsPerCircuit = 30

	DefaultMaxRetries         = 3
	DefaultRetryInitialDelay  = 1 * time.Second
	DefaultRetryBackoffFactor = 2.0
	DefaultRetryMaxJitter     = 500 * time.Millisecond

	DefaultMaxCrawlerWorkers = 5

	// DefaultDomainRateLimit is the minimum spacing of requests to one domain.
	DefaultDomainRateLimit  = 2 * time.Second
	DefaultMaxThrottleDelay = 30 * time.Second

	DefaultRecrawlHours  = 24
	DefaultCrawlDelayMin = 2 * time.Second
	DefaultCrawlDelayMax = 5 * time.Second

	DefaultDirectorySitesLimit = 5
	DefaultSearchEnginesLimit  = 3
	DefaultBatchCrawlSize      = 15

	DefaultContentPreviewLength      = 500
	DefaultSafetyThreshold           = 7
	DefaultConsecutiveErrorThreshold = 5
	DefaultClearnetMaxResults        = 10

	// AppName is the application name used for XDG directory paths.
	AppName = "onionscout"
)

// Config holds every option of onionscout. It is filled from defaults,
// the YAML file, the environment and command line flags, in that order.
type Config struct {
	// TorProxyAddress is the Tor SOCKS5 proxy in "host:port" form.
	TorProxyAddress string
	// TorEnabled routes requests through Tor. Disabling it is only useful
	// for tests against clearnet mirrors.
	TorEnabled bool
	// UseEmbeddedTor starts a private Tor daemon instead of using
	// TorProxyAddress. Bootstrapping takes one to three minutes.
	UseEmbeddedTor    bool
	TorStartupTimeout time.Duration
	// CapabilityCheckURL is queried through every new circuit to confirm
	// the proxy really is Tor. Empty disables the check.
	CapabilityCheckURL string

	// Timeout applies to each HTTP request.
	Timeout     time.Duration
	MaxBodySize int64

	MaxCircuitAge         time.Duration
	MaxRequestsPerCircuit int

	MaxRetries         int
	RetryInitialDelay  time.Duration
	RetryBackoffFactor float64
	RetryMaxJitter     time.Duration

	// ClearnetFallbackEnabled allows the direct transport and the clearnet
	// search provider when onion sites stay unreachable.
	ClearnetFallbackEnabled bool

	DiscoveryMode    string
	CrawlDepth       int
	LinkLimitPerPage int

	ParallelCrawlingEnabled bool
	MaxCrawlerWorkers       int

	// DomainRateLimit is the base delay between requests to one domain.
	DomainRateLimit  time.Duration
	MaxThrottleDelay time.Duration

	RecrawlHours  int
	CrawlDelayMin time.Duration
	CrawlDelayMax time.Duration

	DirectorySitesLimit int
	SearchEnginesLimit  int
	BatchCrawlSize      int

	ContentPreviewLength int
	SafetyFilterEnabled  bool
	SafetyThreshold      int

	// SessionPersistence keeps one header set and cookie jar per domain.
	SessionPersistence bool
	// HeaderRandomization sends browser-like headers instead of Go's defaults.
	HeaderRandomization bool

	ConsecutiveErrorThreshold int
	// StrictAddresses keeps only discovered links with a valid v3 checksum.
	StrictAddresses bool

	// TavilyAPIKey enables the clearnet search provider.
	TavilyAPIKey       string
	TavilyEndpoint     string
	ClearnetMaxResults int

	// DBDir holds the SQLite catalog. Defaults to the XDG data directory.
	DBDir string

	// Schedule is a cron spec for recurring discovery cycles.
	Schedule string

	// SearchEngines overrides the query URL conventions of search engines.
	SearchEngines []discovery.SearchEngine

	// Verbose enables debug logging.
	Verbose bool
	// JSONLogs switches the log format to JSON.
	JSONLogs bool

	// ConfigFilePath is the YAML file to load. Empty searches the default
	// locations.
	ConfigFilePath string
	// SiteConfigs holds the per-site overrides of the loaded file.
	SiteConfigs *File

	JSONReport     bool
	MarkdownReport bool
	ReportFile     string
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		TorProxyAddress:           DefaultTorProxyAddress,
		TorEnabled:                true,
		TorStartupTimeout:         DefaultTorStartupTimeout,
		CapabilityCheckURL:        DefaultCapabilityCheckURL,
		Timeout:                   DefaultTimeout,
		MaxBodySize:               DefaultMaxBodySize,
		MaxCircuitAge:             DefaultMaxCircuitAge,
		MaxRequestsPerCircuit:     DefaultMaxRequestsPerCircuit,
		MaxRetries:                DefaultMaxRetries,
		RetryInitialDelay:         DefaultRetryInitialDelay,
		RetryBackoffFactor:        DefaultRetryBackoffFactor,
		RetryMaxJitter:            DefaultRetryMaxJitter,
		ClearnetFallbackEnabled:   true,
		DiscoveryMode:             DefaultDiscoveryMode,
		CrawlDepth:                DefaultCrawlDepth,
		LinkLimitPerPage:          DefaultLinkLimitPerPage,
		ParallelCrawlingEnabled:   true,
		MaxCrawlerWorkers:         DefaultMaxCrawlerWorkers,
		DomainRateLimit:           DefaultDomainRateLimit,
		MaxThrottleDelay:          DefaultMaxThrottleDelay,
		RecrawlHours:              DefaultRecrawlHours,
		CrawlDelayMin:             DefaultCrawlDelayMin,
		CrawlDelayMax:             DefaultCrawlDelayMax,
		DirectorySitesLimit:       DefaultDirectorySitesLimit,
		SearchEnginesLimit:        DefaultSearchEnginesLimit,
		BatchCrawlSize:            DefaultBatchCrawlSize,
		ContentPreviewLength:      DefaultContentPreviewLength,
		SafetyFilterEnabled:       true,
		SafetyThreshold:           DefaultSafetyThreshold,
		SessionPersistence:        true,
		HeaderRandomization:       true,
		ConsecutiveErrorThreshold: DefaultConsecutiveErrorThreshold,
		StrictAddresses:           true,
		ClearnetMaxResults:        DefaultClearnetMaxResults,
		DBDir:                     XDGDataDir(),
	}
}

// XDGDataDir returns the XDG data directory for onionscout.
// On Linux: ~/.local/share/onionscout
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for onionscout.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for onionscout.
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// Validate returns the first invalid setting it finds.
func (c *Config) Validate() error {
	if _, err := discovery.ParseMode(c.DiscoveryMode); err != nil {
		return ErrInvalidDiscoveryMode
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.CrawlDepth < 0 {
		return ErrInvalidCrawlDepth
	}
	if c.LinkLimitPerPage <= 0 {
		return ErrInvalidLinkLimit
	}
	if c.MaxCircuitAge <= 0 || c.MaxRequestsPerCircuit <= 0 {
		return ErrInvalidCircuitLimits
	}
	if c.MaxRetries < 0 || c.RetryInitialDelay < 0 || c.RetryBackoffFactor < 1 || c.RetryMaxJitter < 0 {
		return ErrInvalidRetryPolicy
	}
	if c.MaxCrawlerWorkers <= 0 {
		return ErrInvalidWorkers
	}
	if c.DomainRateLimit < 0 || c.MaxThrottleDelay < c.DomainRateLimit {
		return ErrInvalidRateLimit
	}
	if c.CrawlDelayMin < 0 || c.CrawlDelayMax < c.CrawlDelayMin {
		return ErrInvalidCrawlDelay
	}
	if c.RecrawlHours < 0 {
		return ErrInvalidRecrawlHours
	}
	if c.DirectorySitesLimit <= 0 || c.SearchEnginesLimit <= 0 || c.BatchCrawlSize <= 0 {
		return ErrInvalidPhaseLimit
	}
	if c.SafetyThreshold < 1 || c.SafetyThreshold > 10 {
		return ErrInvalidSafetyThreshold
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return ErrInvalidSchedule
		}
	}
	return nil
}
