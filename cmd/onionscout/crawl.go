package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/onionscout/internal/model"
)

// manualSource marks links added from the command line.
const manualSource = "manual"

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [url...]",
		Short: "Crawl onion sites and store what they link to",
		Long: `Crawl adds each URL to the catalog and crawls it with retries.

A bare onion address is crawled over http. Links found on the page are
followed up to --depth levels and every onion link is stored. When every
retry fails and the clearnet fallback is enabled, a clearnet search about
the site is recorded instead.

Examples:
  onionscout crawl duckduckgogg42xjoc72x3sjasowoarfbgcmvfimaftt6twagswzczad.onion
  onionscout crawl -d 0 http://example.onion/about
  onionscout crawl --json site1.onion site2.onion`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCrawl,
	}

	cmd.Flags().IntP("depth", "d", -1, "Levels of links to follow (default from config)")
	cmd.Flags().Int("link-limit", 0, "Links followed per page (default from config)")
	cmd.Flags().Bool("sequential", false, "Fetch one page at a time")
	cmd.Flags().BoolP("json", "j", false, "Print results as JSON")

	return cmd
}

func runCrawl(cmd *cobra.Command, args []string) error {
	urls := make([]string, 0, len(args))
	for _, arg := range args {
		u, err := targetURL(arg)
		if err != nil {
			return err
		}
		urls = append(urls, u)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := newApp(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	results := make([]*model.CrawlResult, 0, len(urls))
	var failed int
	for _, u := range urls {
		if _, err := a.db.AddLink(ctx, model.NewLink{URL: u, DiscoverySource: manualSource}); err != nil {
			return fmt.Errorf("failed to add %s: %w", u, err)
		}
		result, err := a.engine.CrawlWithRecovery(ctx, u, a.cfg.CrawlDepth)
		if result != nil {
			results = append(results, result)
			if result.Failed() && !result.WasClearnetFallback {
				failed++
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("crawl %s: %w", u, err)
		}
	}

	if a.cfg.JSONReport {
		if err := printJSON(a.out, results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			printCrawlResult(a.out, r)
		}
	}

	if failed == len(urls) {
		return fmt.Errorf("all %d crawls failed", failed)
	}
	return nil
}
