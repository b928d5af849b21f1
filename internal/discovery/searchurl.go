package discovery

import (
	"net/url"
	"strings"
)

// DefaultSearchTemplate is used for engines without a known convention.
const DefaultSearchTemplate = "/search?q={query}"

// SearchEngine describes how one onion search engine takes a query.
// Match is compared case-insensitively against the engine URL and title.
type SearchEngine struct {
	Name     string `yaml:"name"`
	Match    string `yaml:"match"`
	Template string `yaml:"template"`
}

// DefaultSearchEngines returns the known query conventions.
func DefaultSearchEngines() []SearchEngine {
	return []SearchEngine{
		{Name: "ahmia", Match: "ahmia", Template: "/search/?q={query}"},
		{Name: "torch", Match: "torch", Template: "/search?query={query}"},
	}
}

// FormatSearchURL builds the query URL of the engine at engineURL.
func FormatSearchURL(engines []SearchEngine, engineURL, title, query string) string {
	template := DefaultSearchTemplate
	haystack := strings.ToLower(engineURL + " " + title)
	for _, se := range engines {
		if se.Match != "" && se.Template != "" && strings.Contains(haystack, strings.ToLower(se.Match)) {
			template = se.Template
			break
		}
	}
	base := strings.TrimRight(engineURL, "/")
	return base + strings.ReplaceAll(template, "{query}", url.QueryEscape(query))
}
