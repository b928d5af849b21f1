package report

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/onionscout/internal/model"
)

// MarkdownWriter outputs reports in Markdown format for documentation and
// sharing. Status distributions are rendered as mermaid pie charts.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// WriteCatalog outputs catalog statistics and the optional link listing.
func (w *MarkdownWriter) WriteCatalog(c *Catalog) (int, error) {
	md := markdown.NewMarkdown(w.output)

	stats := c.Stats
	if stats == nil {
		stats = &model.CatalogStats{}
	}

	md.H1("onionscout Catalog")
	md.PlainText("")
	rows := [][]string{
		{"Generated", formatTime(c.GeneratedAt)},
		{"Total Links", strconv.Itoa(stats.TotalLinks)},
	}
	if stats.NewestLink != "" {
		rows = append(rows, []string{"Newest Link", "`" + stats.NewestLink + "`"})
	}
	md.Table(markdown.TableSet{Header: []string{"Property", "Value"}, Rows: rows})
	md.PlainText("")

	w.writeCountSection(md, "Links by Status", "Status", stats.StatusCounts)
	if len(stats.StatusCounts) > 0 {
		w.writePieChart(md, "Link Status Distribution", stats.StatusCounts)
	}
	w.writeCatalogAlert(md, stats)
	w.writeCountSection(md, "Links by Category", "Category", stats.CategoryCounts)
	w.writeCountSection(md, "Top Discovery Sources", "Source", topCounts(stats.DiscoverySources, 10))
	w.writeLinks(md, c.Links)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// WriteRun outputs the statistics of one discovery cycle.
func (w *MarkdownWriter) WriteRun(stats *model.DiscoveryRunStats) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Discovery Cycle")
	md.PlainText("")
	rows := [][]string{
		{"Run ID", "`" + stats.RunID + "`"},
		{"Mode", label(stats.Mode)},
		{"Started", formatTime(stats.StartedAt)},
		{"Elapsed", stats.Elapsed.String()},
	}
	if stats.Query != "" {
		rows = append(rows, []string{"Query", stats.Query})
	}
	md.Table(markdown.TableSet{Header: []string{"Property", "Value"}, Rows: rows})
	md.PlainText("")

	md.H2("Phases")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Count"},
		Rows: [][]string{
			{"Directories crawled", strconv.Itoa(stats.DirectoriesCrawled)},
			{"Search engines queried", strconv.Itoa(stats.SearchEnginesQueried)},
			{"Sites crawled", strconv.Itoa(stats.SitesCrawled)},
			{"New links discovered", strconv.Itoa(stats.NewLinksDiscovered)},
		},
	})
	md.PlainText("")

	b := stats.Batch
	md.H2("Batch Crawl")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows: [][]string{
			{"Successful", strconv.Itoa(b.Successful)},
			{"Failed", strconv.Itoa(b.Failed)},
			{"Filtered for safety", strconv.Itoa(b.FilteredForSafety)},
			{"**Total**", "**" + strconv.Itoa(b.Total) + "**"},
		},
	})
	md.PlainText("")
	if b.Total > 0 {
		w.writePieChart(md, "Batch Outcomes", map[string]int{
			"successful": b.Successful,
			"failed":     b.Failed,
		})
	}

	switch {
	case len(stats.Errors) > 0:
		md.Warningf("The cycle stopped early: %s", stats.Errors[0])
		md.PlainText("")
		md.H2("Errors")
		md.PlainText("")
		md.BulletList(stats.Errors...)
	case b.Failed > 0 && b.Failed >= b.Successful:
		md.Importantf("%d of %d batch crawls failed. Tor connectivity may be degraded.", b.Failed, b.Total)
	default:
		md.Tip("Cycle completed without errors.")
	}
	md.PlainText("")

	w.writeFooter(md)
	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeCountSection(md *markdown.Markdown, title, column string, m map[string]int) {
	md.H2(title)
	md.PlainText("")
	if len(m) == 0 {
		md.PlainText("No data.")
		md.PlainText("")
		return
	}

	counts := sortedCounts(m)
	rows := make([][]string, len(counts))
	for i, c := range counts {
		rows[i] = []string{label(c.name), strconv.Itoa(c.n)}
	}
	md.Table(markdown.TableSet{Header: []string{column, "Count"}, Rows: rows})
	md.PlainText("")
}

// writePieChart writes a mermaid pie chart of the non-zero counts.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, title string, m map[string]int) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle(title),
		piechart.WithShowData(true),
	)
	for _, c := range sortedCounts(m) {
		if c.n > 0 {
			chart.LabelAndIntValue(label(c.name), uint64(c.n))
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeCatalogAlert(md *markdown.Markdown, stats *model.CatalogStats) {
	errs := stats.StatusCounts[string(model.StatusError)]
	fresh := stats.StatusCounts[string(model.StatusNew)]
	switch {
	case stats.TotalLinks == 0:
		md.Note("The catalog is empty. Run `onionscout seed` to add the built-in directories.")
	case errs*2 > stats.TotalLinks:
		md.Warningf("%d of %d links failed their last crawl.", errs, stats.TotalLinks)
	case fresh > 0:
		md.Importantf("%d link(s) have never been crawled. Run `onionscout batch` to visit them.", fresh)
	default:
		md.Tip("Every link has been crawled at least once.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeLinks(md *markdown.Markdown, links []model.LinkRecord) {
	if len(links) == 0 {
		return
	}
	md.H2("Links")
	md.PlainText("")

	rows := make([][]string, len(links))
	for i, l := range links {
		title := l.Title
		if title == "" {
			title = "-"
		}
		rows[i] = []string{
			"`" + l.URL + "`",
			truncate(title, 50),
			label(string(l.Status)),
			label(l.Category),
			formatTime(l.LastChecked),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Title", "Status", "Category", "Last Checked"},
		Rows:   rows,
	})
	md.PlainText("")

	for _, l := range links {
		if l.ContentPreview != "" {
			md.Details(l.URL, l.ContentPreview)
		}
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [onionscout](https://github.com/nao1215/onionscout)*")
}
