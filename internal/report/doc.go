// Package report renders catalog statistics and discovery cycle results.
//
// Three writers implement Writer:
//   - SimpleWriter: plain text for the terminal
//   - JSONWriter: one JSON document per call for tool integration
//   - MarkdownWriter: GitHub-flavored Markdown with mermaid pie charts
//
// MultiWriter fans one report out to several writers.
package report
