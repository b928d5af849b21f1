package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/onionscout/internal/model"
)

// JSONWriter outputs reports in JSON format for tool integration.
type JSONWriter struct {
	baseWriter

	indent       bool
	indentPrefix string
	indentString string

	// version is embedded into every document when set.
	version string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
// The prefix is prepended to each line, and indent is used for each level.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with two-space indentation.
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// WithVersion records the onionscout version in every document.
func WithVersion(version string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.version = version
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type catalogDocument struct {
	Version string `json:"version,omitempty"`
	*Catalog
}

type runDocument struct {
	Version string                   `json:"version,omitempty"`
	Run     *model.DiscoveryRunStats `json:"run"`
}

// WriteCatalog outputs the catalog as one JSON document.
func (w *JSONWriter) WriteCatalog(c *Catalog) (int, error) {
	return w.writeJSON(catalogDocument{Version: w.version, Catalog: c})
}

// WriteRun outputs the run statistics as one JSON document.
func (w *JSONWriter) WriteRun(stats *model.DiscoveryRunStats) (int, error) {
	return w.writeJSON(runDocument{Version: w.version, Run: stats})
}

// writeJSON marshals v and writes it with a trailing newline.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var (
		data []byte
		err  error
	)
	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	data = append(data, '\n')
	return w.output.Write(data)
}
