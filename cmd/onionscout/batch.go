package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewBatchCmd creates the batch command.
func NewBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Recrawl catalog links that are due",
		Long: `Batch recrawls links that were never checked or were last checked more
than recrawl_hours ago, one level deep. Blacklisted links are skipped.

Examples:
  onionscout batch
  onionscout batch --size 50 --workers 10`,
		Args: cobra.NoArgs,
		RunE: runBatch,
	}

	cmd.Flags().Int("size", 0, "Maximum links to crawl (default from config)")
	cmd.Flags().Bool("sequential", false, "Crawl one link at a time")
	cmd.Flags().BoolP("json", "j", false, "Print the outcome as JSON")

	return cmd
}

func runBatch(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := newApp(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	size, err := cmd.Flags().GetInt("size")
	if err != nil {
		return err
	}
	if size <= 0 {
		size = a.cfg.BatchCrawlSize
	}

	stats, err := a.engine.BatchCrawl(ctx, size)
	if a.cfg.JSONReport {
		if perr := printJSON(a.out, stats); perr != nil {
			return perr
		}
	} else {
		fmt.Fprintf(a.out, "Crawled:    %d\n", stats.Total)
		fmt.Fprintf(a.out, "Successful: %d\n", stats.Successful)
		fmt.Fprintf(a.out, "Failed:     %d\n", stats.Failed)
		fmt.Fprintf(a.out, "New links:  %d\n", stats.NewLinksDiscovered)
		fmt.Fprintf(a.out, "Filtered:   %d\n", stats.FilteredForSafety)
	}
	if err != nil {
		return fmt.Errorf("batch crawl failed: %w", err)
	}
	return nil
}
