package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewSearchCmd creates the search command.
func NewSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query onion search engines",
		Long: `Search sends the query to the search engines in the catalog and stores
every new onion link found on their result pages.

When no engine answered and the clearnet fallback is enabled, the query
goes to the configured clearnet search provider instead (requires
ONIONSCOUT_TAVILY_API_KEY or TAVILY_API_KEY).

Examples:
  onionscout search "privacy forum"
  onionscout search --engines 5 --json marketplace`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSearch,
	}

	cmd.Flags().Int("engines", 0, "Maximum search engines to query (default from config)")
	cmd.Flags().BoolP("json", "j", false, "Print discoveries as JSON")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := newApp(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	limit, err := cmd.Flags().GetInt("engines")
	if err != nil {
		return err
	}
	if limit <= 0 {
		limit = a.cfg.SearchEnginesLimit
	}

	discoveries, err := a.engine.QuerySearchEngines(ctx, query, limit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if a.cfg.JSONReport {
		return printJSON(a.out, discoveries)
	}
	if len(discoveries) == 0 {
		fmt.Fprintf(a.out, "No new links found for %q.\n", query)
		return nil
	}
	fmt.Fprintf(a.out, "Found %d new links for %q:\n\n", len(discoveries), query)
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENGINE\tURL\tVIA")
	for _, d := range discoveries {
		via := "tor"
		if d.Clearnet {
			via = "clearnet"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Engine, d.URL, via)
	}
	return tw.Flush()
}
