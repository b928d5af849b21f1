package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nao1215/onionscout/internal/model"
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// printCrawlResult writes a short human summary of one crawl.
func printCrawlResult(w io.Writer, r *model.CrawlResult) {
	switch {
	case r.WasClearnetFallback:
		fmt.Fprintf(w, "[~] %s (clearnet fallback)\n", r.URL)
	case r.Failed():
		fmt.Fprintf(w, "[x] %s\n", r.URL)
	default:
		fmt.Fprintf(w, "[+] %s\n", r.URL)
	}
	if r.Title != "" {
		fmt.Fprintf(w, "    Title:    %s\n", r.Title)
	}
	if r.ResponseTime > 0 {
		fmt.Fprintf(w, "    Response: %s\n", r.ResponseTime.Round(time.Millisecond))
	}
	fmt.Fprintf(w, "    Links:    %d\n", len(r.Links))
	if r.WasFiltered {
		fmt.Fprintf(w, "    Filtered: %s\n", r.FilterReason)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "    Error:    %s\n", e)
	}
}

// printLinks writes links as an aligned table.
func printLinks(w io.Writer, links []model.LinkRecord) error {
	if len(links) == 0 {
		fmt.Fprintln(w, "No links found.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tCATEGORY\tURL\tTITLE\tLAST CHECKED")
	for _, l := range links {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			l.Status, dash(l.Category), l.URL, dash(shorten(l.Title, 40)), checkedAt(l.LastChecked))
	}
	return tw.Flush()
}

// printHistory writes crawl history entries as an aligned table.
func printHistory(w io.Writer, entries []model.CrawlHistoryEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No crawl history.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOUTCOME\tRESPONSE\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			checkedAt(e.Timestamp), e.Outcome, e.ResponseTime.Round(time.Millisecond), dash(e.ErrorMessage))
	}
	return tw.Flush()
}

func checkedAt(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func sortedKeys(m map[string]int) []string {
	return slices.Sorted(maps.Keys(m))
}
