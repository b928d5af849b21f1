package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable onionscout reads.
const EnvPrefix = "ONIONSCOUT_"

// LoadEnv loads a dotenv file into the process environment without
// overriding variables that are already set. An empty path loads ".env".
// A missing file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LookupFunc reports the value of an environment variable.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides c with ONIONSCOUT_* variables and TAVILY_API_KEY.
// Variables that are unset or empty keep the current value.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("TOR_PROXY", &c.TorProxyAddress)
	e.boolean("TOR_ENABLED", &c.TorEnabled)
	e.boolean("EMBEDDED_TOR", &c.UseEmbeddedTor)
	e.duration("TIMEOUT", &c.Timeout)
	e.str("DISCOVERY_MODE", &c.DiscoveryMode)
	e.integer("CRAWL_DEPTH", &c.CrawlDepth)
	e.integer("LINK_LIMIT_PER_PAGE", &c.LinkLimitPerPage)
	e.duration("MAX_CIRCUIT_AGE", &c.MaxCircuitAge)
	e.integer("MAX_REQUESTS_PER_CIRCUIT", &c.MaxRequestsPerCircuit)
	e.integer("MAX_RETRIES", &c.MaxRetries)
	e.boolean("CLEARNET_FALLBACK", &c.ClearnetFallbackEnabled)
	e.boolean("PARALLEL_CRAWLING", &c.ParallelCrawlingEnabled)
	e.integer("MAX_CRAWLER_WORKERS", &c.MaxCrawlerWorkers)
	e.duration("DOMAIN_RATE_LIMIT", &c.DomainRateLimit)
	e.integer("RECRAWL_HOURS", &c.RecrawlHours)
	e.integer("DIRECTORY_SITES_LIMIT", &c.DirectorySitesLimit)
	e.integer("SEARCH_ENGINES_LIMIT", &c.SearchEnginesLimit)
	e.integer("BATCH_CRAWL_SIZE", &c.BatchCrawlSize)
	e.integer("CONTENT_PREVIEW_LENGTH", &c.ContentPreviewLength)
	e.boolean("SAFETY_FILTER", &c.SafetyFilterEnabled)
	e.integer("SAFETY_THRESHOLD", &c.SafetyThreshold)
	e.boolean("SESSION_PERSISTENCE", &c.SessionPersistence)
	e.boolean("HEADER_RANDOMIZATION", &c.HeaderRandomization)
	e.str("DB_DIR", &c.DBDir)
	e.str("SCHEDULE", &c.Schedule)
	e.str("TAVILY_ENDPOINT", &c.TavilyEndpoint)

	if v, ok := lookup("TAVILY_API_KEY"); ok && v != "" {
		c.TavilyAPIKey = v
	}
	e.str("TAVILY_API_KEY", &c.TavilyAPIKey)

	return e.err
}

// envReader remembers the first parse failure so callers can check once.
type envReader struct {
	lookup LookupFunc
	err    error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	return v, ok && v != ""
}

func (e *envReader) fail(name, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %s%s=%q: %w", ErrInvalidEnv, EnvPrefix, name, value, err)
	}
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) integer(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = n
}

func (e *envReader) boolean(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = b
}

// duration accepts Go durations ("90s") or a bare number of seconds.
func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = d
}
