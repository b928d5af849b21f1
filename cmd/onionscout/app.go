package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/onionscout/internal/config"
	"github.com/nao1215/onionscout/internal/crawler"
	"github.com/nao1215/onionscout/internal/database"
	"github.com/nao1215/onionscout/internal/discovery"
	"github.com/nao1215/onionscout/internal/events"
	"github.com/nao1215/onionscout/internal/log"
	"github.com/nao1215/onionscout/internal/report"
	"github.com/nao1215/onionscout/internal/safety"
	"github.com/nao1215/onionscout/internal/search"
	"github.com/nao1215/onionscout/internal/throttle"
	"github.com/nao1215/onionscout/internal/tor"
)

// app holds everything a command needs. Network pieces are only built for
// commands that crawl.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer

	db       *database.LinkDB
	engine   *discovery.Engine
	sessions *tor.SessionManager
	embedded *tor.EmbeddedTor
}

// signalContext cancels on SIGINT and SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return nil, err
	}
	if envFile != "" {
		if err := config.LoadEnv(envFile); err != nil {
			return nil, err
		}
	}

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// applyFlags copies explicitly set flags into cfg. Flags left at their
// default keep the value from the file or the environment.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	fs := cmd.Flags()
	changed := func(name string) bool {
		f := fs.Lookup(name)
		return f != nil && f.Changed
	}

	var err error
	str := func(name string, dst *string) {
		if err == nil && changed(name) {
			*dst, err = fs.GetString(name)
		}
	}
	integer := func(name string, dst *int) {
		if err == nil && changed(name) {
			*dst, err = fs.GetInt(name)
		}
	}
	duration := func(name string, dst *time.Duration) {
		if err == nil && changed(name) {
			*dst, err = fs.GetDuration(name)
		}
	}
	boolean := func(name string, dst *bool, invert bool) {
		if err == nil && changed(name) {
			var v bool
			v, err = fs.GetBool(name)
			*dst = v != invert
		}
	}

	boolean("verbose", &cfg.Verbose, false)
	boolean("json-logs", &cfg.JSONLogs, false)
	str("db-dir", &cfg.DBDir)
	str("tor-proxy", &cfg.TorProxyAddress)
	boolean("embedded-tor", &cfg.UseEmbeddedTor, false)
	duration("tor-timeout", &cfg.TorStartupTimeout)
	duration("timeout", &cfg.Timeout)
	boolean("no-tor", &cfg.TorEnabled, true)
	boolean("no-clearnet-fallback", &cfg.ClearnetFallbackEnabled, true)
	integer("workers", &cfg.MaxCrawlerWorkers)

	str("mode", &cfg.DiscoveryMode)
	str("schedule", &cfg.Schedule)
	integer("depth", &cfg.CrawlDepth)
	integer("link-limit", &cfg.LinkLimitPerPage)
	boolean("sequential", &cfg.ParallelCrawlingEnabled, true)

	boolean("json", &cfg.JSONReport, false)
	boolean("markdown", &cfg.MarkdownReport, false)
	str("output", &cfg.ReportFile)

	return err
}

// newApp loads the configuration, sets up logging and opens the catalog.
// With network set it also builds the transport and the discovery engine.
func newApp(ctx context.Context, cmd *cobra.Command, network bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger := log.NewLogger(cmd.ErrOrStderr(), log.Options{Verbose: cfg.Verbose, JSON: cfg.JSONLogs})
	slog.SetDefault(logger)

	opts := database.DefaultOptions()
	opts.Logger = logger
	db, err := database.Open(cfg.DBDir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open link catalog: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, out: cmd.OutOrStdout(), db: db}
	if !network {
		return a, nil
	}
	if err := a.buildEngine(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// buildEngine wires Tor, throttling, identities, the worker pool and the
// collaborators of the discovery engine.
func (a *app) buildEngine(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	torClient, err := a.torClient(ctx)
	if err != nil {
		return err
	}

	throttleOpts := append(cfg.ThrottleOptions(), throttle.WithLogger(logger))
	limiter := throttle.NewManager(cfg.ThrottleConfig(), throttleOpts...)

	sessionOpts := []tor.SessionOption{
		tor.WithSessionLogger(logger),
		tor.WithOutcomeRecorder(limiter),
		tor.WithThrottle(limiter),
		tor.WithDirectClient(tor.NewDirectHTTPClient(cfg.Timeout)),
	}
	if torClient != nil {
		sessionOpts = append(sessionOpts, tor.WithTorClient(torClient))
	}
	if cfg.CapabilityCheckURL == "" {
		sessionOpts = append(sessionOpts, tor.WithCapabilityChecker(nil))
	} else {
		sessionOpts = append(sessionOpts, tor.WithCapabilityChecker(tor.IsTorChecker{URL: cfg.CapabilityCheckURL}))
	}
	overrides := cfg.SiteOverrides()
	if cfg.HeaderRandomization || cfg.SessionPersistence || len(overrides) > 0 {
		ids := throttle.NewIdentityManager(cfg.SessionPersistence, throttle.WithSiteOverrides(overrides))
		sessionOpts = append(sessionOpts, tor.WithIdentities(ids))
	}
	a.sessions = tor.NewSessionManager(cfg.SessionConfig(), sessionOpts...)

	engineOpts := []discovery.Option{
		discovery.WithConfig(cfg.EngineConfig()),
		discovery.WithPool(crawler.NewPool(cfg.MaxCrawlerWorkers, crawler.WithPoolLogger(logger))),
		discovery.WithEventSink(events.LogSink{Logger: logger}),
		discovery.WithLogger(logger),
	}
	if cfg.SafetyFilterEnabled {
		engineOpts = append(engineOpts, discovery.WithClassifier(safety.NewKeywordClassifier()))
	}
	if cfg.TavilyAPIKey != "" {
		searchOpts := []search.Option{search.WithLogger(logger)}
		if cfg.TavilyEndpoint != "" {
			searchOpts = append(searchOpts, search.WithEndpoint(cfg.TavilyEndpoint))
		}
		engineOpts = append(engineOpts, discovery.WithSearchProvider(search.NewTavilyProvider(cfg.TavilyAPIKey, searchOpts...)))
	} else if cfg.ClearnetFallbackEnabled {
		logger.Debug("clearnet search disabled: no Tavily API key configured")
	}

	a.engine, err = discovery.NewEngine(a.db, a.sessions, engineOpts...)
	return err
}

// torClient returns the SOCKS client for the configured Tor daemon, or nil
// when Tor is disabled.
func (a *app) torClient(ctx context.Context) (*tor.Client, error) {
	cfg := a.cfg
	if !cfg.TorEnabled {
		a.logger.Warn("Tor is disabled; every request goes directly over the clearnet")
		return nil, nil
	}
	if !cfg.UseEmbeddedTor {
		client, err := tor.NewClient(cfg.TorProxyAddress, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create Tor client: %w", err)
		}
		return client, nil
	}

	fmt.Fprintln(a.out, "Starting embedded Tor daemon...")
	fmt.Fprintf(a.out, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

	embedded := tor.NewEmbeddedTor(tor.WithStartupTimeout(cfg.TorStartupTimeout))
	if err := embedded.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start embedded Tor: %w", err)
	}
	a.embedded = embedded
	a.logger.Info("embedded Tor daemon started", "socks_addr", embedded.SocksAddr())

	client, err := embedded.NewClient(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create Tor client: %w", err)
	}
	return client, nil
}

// close releases everything newApp acquired.
func (a *app) close() {
	if a.engine != nil {
		a.engine.Shutdown()
	}
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			a.logger.Warn("failed to close Tor session", "error", err)
		}
	}
	if a.embedded != nil {
		a.logger.Info("stopping embedded Tor daemon")
		if err := a.embedded.Stop(); err != nil {
			a.logger.Error("failed to stop embedded Tor", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close link catalog", "error", err)
	}
}

// addReportFlags adds the output format flags.
func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("json", "j", false, "Output JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false, "Output Markdown (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "", "Write the report to this file (creates directories if needed)")
}

// reportWriter returns the writer selected by the report flags and a
// function that closes the output file, if any.
func (a *app) reportWriter() (report.Writer, func() error, error) {
	output := a.out
	closeFn := func() error { return nil }

	if a.cfg.ReportFile != "" {
		dir := filepath.Dir(a.cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		// Reports list onion addresses; keep them private to the owner.
		f, err := os.OpenFile(a.cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create output file: %w", err)
		}
		output = f
		closeFn = f.Close
	}

	switch {
	case a.cfg.JSONReport:
		return report.NewJSONWriter(output, report.WithPrettyPrint(), report.WithVersion(getVersion())), closeFn, nil
	case a.cfg.MarkdownReport:
		return report.NewMarkdownWriter(output), closeFn, nil
	default:
		return report.NewSimpleWriter(output, report.WithVerbose(a.cfg.Verbose)), closeFn, nil
	}
}

// targetURL turns user input into a crawlable URL. Bare onion hosts get
// an http scheme; anything with a scheme is used as given.
func targetURL(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if strings.Contains(arg, "://") {
		return arg, nil
	}
	host, err := tor.NormalizeAddress(arg)
	if err != nil {
		return "", fmt.Errorf("invalid onion address %q: %w", arg, err)
	}
	return "http://" + host, nil
}
