package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/nao1215/onionscout/internal/discovery"
	"github.com/nao1215/onionscout/internal/report"
)

// NewDiscoverCmd creates the discover command.
func NewDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run a discovery cycle",
		Long: `Discover runs one discovery cycle:

  1. Crawl known onion directories and store the links they list
  2. Query onion search engines when --query is given
  3. Recrawl catalog links that are new or due for a check

The mode scales the phase limits. Aggressive doubles the directory, engine
and batch limits; passive halves the batch (at least 5 links).

With --schedule the cycle repeats on a standard cron spec until the
process is interrupted. A cycle that is still running when the next one
is due is skipped.

Examples:
  # One passive cycle
  onionscout discover

  # Search for a topic as well
  onionscout discover -q "privacy forum" --mode active

  # Every six hours, Markdown summaries appended to a file
  onionscout discover --schedule "0 */6 * * *" -m -o runs.md`,
		Args: cobra.NoArgs,
		RunE: runDiscover,
	}

	cmd.Flags().StringP("query", "q", "", "Search engine query for the search phase")
	cmd.Flags().String("mode", "", "Discovery mode: passive, active or aggressive (default from config)")
	cmd.Flags().String("schedule", "", "Repeat on this cron spec, e.g. \"0 */6 * * *\"")
	cmd.Flags().Bool("sequential", false, "Crawl one site at a time instead of using the worker pool")
	addReportFlags(cmd)

	return cmd
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := newApp(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	query, err := cmd.Flags().GetString("query")
	if err != nil {
		return err
	}

	writer, closeOutput, err := a.reportWriter()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeOutput(); err != nil {
			a.logger.Warn("failed to close report file", "error", err)
		}
	}()

	if a.cfg.Schedule == "" {
		return runCycle(ctx, a.engine, writer, query)
	}
	return runScheduled(ctx, a, writer, query)
}

// runCycle runs one discovery cycle and writes its summary. The summary is
// written even when the cycle stopped early.
func runCycle(ctx context.Context, engine *discovery.Engine, writer report.Writer, query string) error {
	stats, err := engine.RunDiscoveryCycle(ctx, query)
	if stats != nil {
		if _, werr := writer.WriteRun(stats); werr != nil {
			return fmt.Errorf("failed to write run summary: %w", werr)
		}
	}
	if err != nil {
		return fmt.Errorf("discovery cycle failed: %w", err)
	}
	return nil
}

// runScheduled runs a cycle right away and then on every tick of the
// configured schedule until ctx is done.
func runScheduled(ctx context.Context, a *app, writer report.Writer, query string) error {
	logger := cronLogger{logger: a.logger}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	job := func() {
		if err := runCycle(ctx, a.engine, writer, query); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("scheduled discovery cycle failed", "error", err)
		}
	}
	id, err := c.AddFunc(a.cfg.Schedule, job)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", a.cfg.Schedule, err)
	}

	job()
	if ctx.Err() != nil {
		return nil
	}

	c.Start()
	a.logger.Info("discovery scheduled", "schedule", a.cfg.Schedule, "next", c.Entry(id).Next)

	<-ctx.Done()
	a.logger.Info("stopping scheduler")
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts slog to the logger interface of cron.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
