package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrInvalidDiscoveryMode is returned for a mode other than passive,
	// active or aggressive.
	ErrInvalidDiscoveryMode = errors.New("invalid discovery mode: must be passive, active or aggressive")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidCrawlDepth is returned for a negative crawl depth.
	ErrInvalidCrawlDepth = errors.New("invalid crawl depth: must be non-negative")

	// ErrInvalidLinkLimit is returned when no link per page could be followed.
	ErrInvalidLinkLimit = errors.New("invalid link limit per page: must be positive")

	ErrInvalidCircuitLimits = errors.New("invalid circuit limits: max age and max requests must be positive")

	ErrInvalidRetryPolicy = errors.New("invalid retry policy: retries and delays must be non-negative and the backoff factor at least 1")

	ErrInvalidWorkers = errors.New("invalid crawler workers: must be positive")

	// ErrInvalidRateLimit is returned when the domain rate limit is negative
	// or exceeds the maximum throttle delay.
	ErrInvalidRateLimit = errors.New("invalid domain rate limit: must be between 0 and the max throttle delay")

	// ErrInvalidCrawlDelay is returned when the delay range is negative or inverted.
	ErrInvalidCrawlDelay = errors.New("invalid crawl delay: min must be non-negative and not above max")

	ErrInvalidRecrawlHours = errors.New("invalid recrawl hours: must be non-negative")

	ErrInvalidPhaseLimit = errors.New("invalid phase limit: directory, search engine and batch limits must be positive")

	ErrInvalidSafetyThreshold = errors.New("invalid safety threshold: must be between 1 and 10")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrInvalidSchedule is returned for a schedule cron cannot parse.
	ErrInvalidSchedule = errors.New("invalid schedule: must be a standard cron spec")

	// ErrInvalidEnv is returned when an ONIONSCOUT_* variable cannot be parsed.
	ErrInvalidEnv = errors.New("invalid environment variable")
)
