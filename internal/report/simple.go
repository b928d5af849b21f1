package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/onionscout/internal/model"
)

// SimpleWriter outputs plain text reports for terminal display.
type SimpleWriter struct {
	baseWriter

	// showEmpty prints sections that have nothing to show.
	showEmpty bool

	// verbose adds previews and discovery sources to link listings.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteCatalog outputs catalog statistics and the optional link listing.
func (w *SimpleWriter) WriteCatalog(c *Catalog) (int, error) {
	var sb strings.Builder

	writeBanner(&sb, "ONIONSCOUT CATALOG")
	fmt.Fprintf(&sb, "Generated:    %s\n", formatTime(c.GeneratedAt))

	stats := c.Stats
	if stats == nil {
		stats = &model.CatalogStats{}
	}
	fmt.Fprintf(&sb, "Total Links:  %d\n", stats.TotalLinks)
	if stats.NewestLink != "" {
		fmt.Fprintf(&sb, "Newest Link:  %s (%s)\n", stats.NewestLink, formatTime(stats.NewestLinkDate))
	}
	sb.WriteString("\n")

	w.writeCounts(&sb, "BY STATUS", stats.StatusCounts)
	w.writeCounts(&sb, "BY CATEGORY", stats.CategoryCounts)
	w.writeCounts(&sb, "TOP DISCOVERY SOURCES", topCounts(stats.DiscoverySources, 10))
	w.writeLinks(&sb, c.Links)

	writeFooter(&sb)
	return w.output.Write([]byte(sb.String()))
}

// WriteRun outputs the statistics of one discovery cycle.
func (w *SimpleWriter) WriteRun(stats *model.DiscoveryRunStats) (int, error) {
	var sb strings.Builder

	writeBanner(&sb, "DISCOVERY CYCLE")
	fmt.Fprintf(&sb, "Run ID:       %s\n", stats.RunID)
	fmt.Fprintf(&sb, "Mode:         %s\n", label(stats.Mode))
	if stats.Query != "" {
		fmt.Fprintf(&sb, "Query:        %s\n", stats.Query)
	}
	fmt.Fprintf(&sb, "Started:      %s\n", formatTime(stats.StartedAt))
	fmt.Fprintf(&sb, "Elapsed:      %s\n", stats.Elapsed.Round(time.Millisecond))
	sb.WriteString("\n")

	writeSection(&sb, "PHASES")
	fmt.Fprintf(&sb, "  Directories crawled:     %d\n", stats.DirectoriesCrawled)
	fmt.Fprintf(&sb, "  Search engines queried:  %d\n", stats.SearchEnginesQueried)
	fmt.Fprintf(&sb, "  Sites crawled:           %d\n", stats.SitesCrawled)
	fmt.Fprintf(&sb, "  New links discovered:    %d\n", stats.NewLinksDiscovered)
	sb.WriteString("\n")

	writeSection(&sb, "BATCH CRAWL")
	b := stats.Batch
	fmt.Fprintf(&sb, "  Total:       %d\n", b.Total)
	fmt.Fprintf(&sb, "  Successful:  %d\n", b.Successful)
	fmt.Fprintf(&sb, "  Failed:      %d\n", b.Failed)
	fmt.Fprintf(&sb, "  Filtered:    %d\n", b.FilteredForSafety)
	sb.WriteString("\n")

	if len(stats.Errors) > 0 || w.showEmpty {
		writeSection(&sb, "ERRORS")
		if len(stats.Errors) == 0 {
			sb.WriteString("  None\n")
		}
		for _, e := range stats.Errors {
			fmt.Fprintf(&sb, "  [!] %s\n", e)
		}
		sb.WriteString("\n")
	}

	writeFooter(&sb)
	return w.output.Write([]byte(sb.String()))
}

func (w *SimpleWriter) writeCounts(sb *strings.Builder, title string, m map[string]int) {
	if len(m) == 0 && !w.showEmpty {
		return
	}
	writeSection(sb, title)
	if len(m) == 0 {
		sb.WriteString("  None\n\n")
		return
	}
	for _, c := range sortedCounts(m) {
		fmt.Fprintf(sb, "  %-28s %6d\n", label(c.name), c.n)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeLinks(sb *strings.Builder, links []model.LinkRecord) {
	if len(links) == 0 {
		return
	}
	writeSection(sb, fmt.Sprintf("LINKS (%d)", len(links)))
	for _, l := range links {
		fmt.Fprintf(sb, "  [%s] %s\n", statusIndicator(l.Status), l.URL)
		if l.Title != "" {
			fmt.Fprintf(sb, "      %s\n", truncate(l.Title, 80))
		}
		if !w.verbose {
			continue
		}
		fmt.Fprintf(sb, "      category=%s source=%s checked=%s\n",
			l.Category, l.DiscoverySource, formatTime(l.LastChecked))
		if l.ContentPreview != "" {
			fmt.Fprintf(sb, "      %s\n", truncate(strings.Join(strings.Fields(l.ContentPreview), " "), 120))
		}
	}
	sb.WriteString("\n")
}

// statusIndicator returns a short marker for the link status.
func statusIndicator(s model.Status) string {
	switch s {
	case model.StatusActive:
		return "+"
	case model.StatusNew:
		return "*"
	case model.StatusError, model.StatusInactive:
		return "!"
	case model.StatusBlacklisted:
		return "x"
	case model.StatusClearnetFallback:
		return "~"
	default:
		return "?"
	}
}

// topCounts keeps the n largest entries.
func topCounts(m map[string]int, n int) map[string]int {
	if len(m) <= n {
		return m
	}
	out := make(map[string]int, n)
	for _, c := range sortedCounts(m)[:n] {
		out[c.name] = c.n
	}
	return out
}

func writeBanner(sb *strings.Builder, title string) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	pad := max(0, (70-len(title))/2)
	sb.WriteString(strings.Repeat(" ", pad) + title + "\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")
}

func writeSection(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title + "\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}

func writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Report generated by onionscout\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
