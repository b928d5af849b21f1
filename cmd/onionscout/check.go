package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCheckCmd creates the check command.
func NewCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [url...]",
		Short: "Check whether onion sites are up",
		Long: `Check sends a HEAD request to each URL and records the outcome in the
crawl history. The catalog status is left unchanged.

The command fails when any site is down.

Examples:
  onionscout check example.onion
  onionscout check http://a.onion http://b.onion`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
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

	var down int
	for _, u := range urls {
		up, err := a.engine.CheckStatus(ctx, u)
		if err != nil {
			return fmt.Errorf("check %s: %w", u, err)
		}
		if up {
			fmt.Fprintf(a.out, "[+] %s is up\n", u)
			continue
		}
		down++
		fmt.Fprintf(a.out, "[x] %s is down\n", u)
	}
	if down > 0 {
		return fmt.Errorf("%d of %d sites are down", down, len(urls))
	}
	return nil
}
