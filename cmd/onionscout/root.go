package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/onionscout/internal/config"
)

// NewRootCmd creates the root command for onionscout.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "onionscout",
		Short: "Discover and catalog Tor onion services",
		Long: `onionscout discovers Tor onion services.

It crawls onion directories and search engines through Tor, stores every
discovered link in a local SQLite catalog and periodically recrawls the
catalog to keep statuses, titles and content previews current.

By default requests go through the Tor SOCKS proxy at 127.0.0.1:9050.
Use --embedded-tor to start a private Tor daemon instead.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.BoolP("verbose", "v", false, "Enable verbose logging")
	pf.Bool("json-logs", false, "Write logs as JSON lines")
	pf.StringP("config", "c", "",
		"Configuration file path (default: .onionscout in current or home directory)")
	pf.String("env-file", "", "Load environment variables from this file (default: .env)")
	pf.String("db-dir", "", "Directory of the link catalog (default: XDG data directory)")

	pf.StringP("tor-proxy", "e", config.DefaultTorProxyAddress, "Tor SOCKS5 proxy address")
	pf.Bool("embedded-tor", false, "Start an embedded Tor daemon instead of using --tor-proxy")
	pf.Duration("tor-timeout", config.DefaultTorStartupTimeout, "Timeout for embedded Tor startup")
	pf.DurationP("timeout", "t", config.DefaultTimeout, "Timeout for each request")
	pf.Bool("no-tor", false, "Send every request directly (for testing against clearnet mirrors)")
	pf.Bool("no-clearnet-fallback", false, "Never fall back to clearnet transport or search")
	pf.Int("workers", config.DefaultMaxCrawlerWorkers, "Maximum concurrent crawls")

	cmd.AddCommand(NewDiscoverCmd())
	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewSearchCmd())
	cmd.AddCommand(NewBatchCmd())
	cmd.AddCommand(NewSeedCmd())
	cmd.AddCommand(NewLinksCmd())
	cmd.AddCommand(NewCheckCmd())
	cmd.AddCommand(NewReportCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
