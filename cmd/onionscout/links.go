package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/onionscout/internal/database"
	"github.com/nao1215/onionscout/internal/model"
)

// NewLinksCmd creates the links command and its subcommands.
func NewLinksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Inspect and manage the link catalog",
		Long: `Links works on the local catalog without touching the network.

Examples:
  onionscout links list --status active
  onionscout links search forum
  onionscout links stats
  onionscout links export -o links.json --category directory
  onionscout links import links.json
  onionscout links blacklist http://bad.onion --reason "phishing clone"
  onionscout links history http://example.onion`,
	}

	cmd.AddCommand(newLinksListCmd())
	cmd.AddCommand(newLinksSearchCmd())
	cmd.AddCommand(newLinksStatsCmd())
	cmd.AddCommand(newLinksExportCmd())
	cmd.AddCommand(newLinksImportCmd())
	cmd.AddCommand(newLinksBlacklistCmd())
	cmd.AddCommand(newLinksHistoryCmd())

	return cmd
}

func newLinksListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalogued links",
		Args:  cobra.NoArgs,
		RunE:  runLinksList,
	}
	cmd.Flags().String("status", "", "Only links with this status (new, active, inactive, error, blacklisted, clearnet_fallback)")
	cmd.Flags().String("category", "", "Only links of this category")
	cmd.Flags().IntP("limit", "l", 50, "Maximum links to list")
	cmd.Flags().BoolP("json", "j", false, "Print links as JSON")
	return cmd
}

func runLinksList(cmd *cobra.Command, _ []string) error {
	statusFlag, err := cmd.Flags().GetString("status")
	if err != nil {
		return err
	}
	category, err := cmd.Flags().GetString("category")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	var status model.Status
	if statusFlag != "" {
		if status, err = model.ParseStatus(statusFlag); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := newApp(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	var links []model.LinkRecord
	switch {
	case status != "":
		links, err = a.db.LinksByStatus(ctx, status, limit)
		links = filterCategory(links, category)
	case category != "":
		links, err = a.db.LinksByCategory(ctx, category, limit)
	default:
		links, err = a.db.Links(ctx, "")
		if limit > 0 && len(links) > limit {
			links = links[:limit]
		}
	}
	if err != nil {
		return fmt.Errorf("failed to list links: %w", err)
	}
	return writeLinks(a, links)
}

func filterCategory(links []model.LinkRecord, category string) []model.LinkRecord {
	if category == "" {
		return links
	}
	out := links[:0]
	for _, l := range links {
		if l.Category == category {
			out = append(out, l)
		}
	}
	return out
}

func writeLinks(a *app, links []model.LinkRecord) error {
	if a.cfg.JSONReport {
		if links == nil {
			links = []model.LinkRecord{}
		}
		return printJSON(a.out, links)
	}
	return printLinks(a.out, links)
}

func newLinksSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Search link URLs, titles and descriptions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := newApp(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			links, err := a.db.Search(ctx, strings.Join(args, " "), limit)
			if err != nil {
				return fmt.Errorf("failed to search links: %w", err)
			}
			return writeLinks(a, links)
		},
	}
	cmd.Flags().IntP("limit", "l", 50, "Maximum links to list")
	cmd.Flags().BoolP("json", "j", false, "Print links as JSON")
	return cmd
}

func newLinksStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show catalog statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := newApp(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.db.Statistics(ctx)
			if err != nil {
				return fmt.Errorf("failed to collect statistics: %w", err)
			}
			if a.cfg.JSONReport {
				return printJSON(a.out, stats)
			}

			fmt.Fprintf(a.out, "Total links: %d\n", stats.TotalLinks)
			if stats.NewestLink != "" {
				fmt.Fprintf(a.out, "Newest:      %s (%s)\n", stats.NewestLink, checkedAt(stats.NewestLinkDate))
			}
			printCounts(a, "Status", stats.StatusCounts)
			printCounts(a, "Category", stats.CategoryCounts)
			return nil
		},
	}
	cmd.Flags().BoolP("json", "j", false, "Print statistics as JSON")
	return cmd
}

func printCounts(a *app, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(a.out, "\n%s:\n", title)
	for _, c := range sortedKeys(counts) {
		fmt.Fprintf(a.out, "  %-20s %d\n", dash(c), counts[c])
	}
}

func newLinksExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export links as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			category, err := cmd.Flags().GetString("category")
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := newApp(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			if a.cfg.ReportFile == "" {
				_, err := a.db.Export(ctx, a.out, category)
				return err
			}

			if dir := filepath.Dir(a.cfg.ReportFile); dir != "" && dir != "." {
				if err := os.MkdirAll(dir, 0750); err != nil {
					return fmt.Errorf("failed to create output directory: %w", err)
				}
			}
			f, err := os.OpenFile(a.cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			n, err := a.db.Export(ctx, f, category)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d links to %s\n", n, a.cfg.ReportFile)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
	cmd.Flags().String("category", "", "Only links of this category")
	return cmd
}

func newLinksImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import links exported by \"links export\"",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open import file: %w", err)
			}
			defer f.Close()

			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := newApp(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.db.Import(ctx, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Imported %d new links\n", n)
			return nil
		},
	}
}

func newLinksBlacklistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blacklist <url>",
		Short: "Blacklist a link so it is never crawled again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, err := cmd.Flags().GetString("reason")
			if err != nil {
				return err
			}
			target, err := targetURL(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := newApp(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			ok, err := a.db.Blacklist(ctx, target, reason)
			if err != nil {
				return fmt.Errorf("failed to blacklist %s: %w", target, err)
			}
			if !ok {
				return fmt.Errorf("%s: %w", target, database.ErrNotFound)
			}
			fmt.Fprintf(a.out, "Blacklisted %s\n", target)
			return nil
		},
	}
	cmd.Flags().String("reason", "manual", "Reason stored with the link")
	return cmd
}

func newLinksHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <url>",
		Short: "Show the crawl history of a link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return err
			}
			target, err := targetURL(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := newApp(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.db.Get(ctx, target); err != nil {
				if errors.Is(err, database.ErrNotFound) {
					return fmt.Errorf("%s is not in the catalog", target)
				}
				return err
			}
			entries, err := a.db.CrawlHistory(ctx, target, limit)
			if err != nil {
				return fmt.Errorf("failed to read crawl history: %w", err)
			}
			if a.cfg.JSONReport {
				if entries == nil {
					entries = []model.CrawlHistoryEntry{}
				}
				return printJSON(a.out, entries)
			}
			return printHistory(a.out, entries)
		},
	}
	cmd.Flags().IntP("limit", "l", 20, "Maximum entries to show")
	cmd.Flags().BoolP("json", "j", false, "Print entries as JSON")
	return cmd
}
