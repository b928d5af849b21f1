package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/onionscout/internal/model"
	"github.com/nao1215/onionscout/internal/report"
)

// NewReportCmd creates the report command.
func NewReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write a catalog report",
		Long: `Report summarizes the catalog as text, JSON or Markdown.

Examples:
  onionscout report
  onionscout report --links --category directory
  onionscout report -m -o reports/catalog.md`,
		Args: cobra.NoArgs,
		RunE: runReport,
	}

	cmd.Flags().Bool("links", false, "Include the catalogued links")
	cmd.Flags().String("category", "", "Only include links of this category")
	cmd.Flags().String("status", "", "Only include links with this status")
	addReportFlags(cmd)

	return cmd
}

func runReport(cmd *cobra.Command, _ []string) error {
	withLinks, err := cmd.Flags().GetBool("links")
	if err != nil {
		return err
	}
	category, err := cmd.Flags().GetString("category")
	if err != nil {
		return err
	}
	statusFlag, err := cmd.Flags().GetString("status")
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

	stats, err := a.db.Statistics(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect statistics: %w", err)
	}
	catalog := &report.Catalog{GeneratedAt: time.Now(), Stats: stats}

	if withLinks || category != "" || status != "" {
		links, err := a.db.Links(ctx, category)
		if err != nil {
			return fmt.Errorf("failed to list links: %w", err)
		}
		if status != "" {
			kept := links[:0]
			for _, l := range links {
				if l.Status == status {
					kept = append(kept, l)
				}
			}
			links = kept
		}
		catalog.Links = links
	}

	writer, closeOutput, err := a.reportWriter()
	if err != nil {
		return err
	}
	if _, err := writer.WriteCatalog(catalog); err != nil {
		_ = closeOutput()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := closeOutput(); err != nil {
		return fmt.Errorf("failed to close report file: %w", err)
	}
	if a.cfg.ReportFile != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", a.cfg.ReportFile)
	}
	return nil
}
