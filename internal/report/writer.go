package report

import (
	"cmp"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/onionscout/internal/model"
)

// Catalog is a snapshot of the link catalog.
type Catalog struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Stats       *model.CatalogStats `json:"stats"`
	// Links is optional. When set, writers list them after the statistics.
	Links []model.LinkRecord `json:"links,omitempty"`
}

// Writer defines the interface for report output.
type Writer interface {
	// WriteCatalog outputs catalog statistics and an optional link listing.
	WriteCatalog(c *Catalog) (int, error)

	// WriteRun outputs the statistics of one discovery cycle.
	WriteRun(stats *model.DiscoveryRunStats) (int, error)
}

// MultiWriter writes to multiple Writers in order and stops on the first
// error.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// WriteCatalog outputs the catalog to all configured Writers.
func (m *MultiWriter) WriteCatalog(c *Catalog) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteCatalog(c)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteRun outputs the run statistics to all configured Writers.
func (m *MultiWriter) WriteRun(stats *model.DiscoveryRunStats) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteRun(stats)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

type count struct {
	name string
	n    int
}

// sortedCounts orders a count map by count, largest first, then by name.
func sortedCounts(m map[string]int) []count {
	out := make([]count, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		out = append(out, count{name: k, n: m[k]})
	}
	slices.SortStableFunc(out, func(a, b count) int {
		return cmp.Compare(b.n, a.n)
	})
	return out
}

var titleCaser = cases.Title(language.English)

// label turns identifiers such as "clearnet_fallback" into "Clearnet Fallback".
func label(s string) string {
	if s == "" {
		return "-"
	}
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

// truncate shortens s to maxLen runes with an ellipsis.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

const timeLayout = "2006-01-02 15:04:05 MST"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(timeLayout)
}
