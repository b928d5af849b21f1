// Package search queries a clearnet search API. The discovery engine uses
// it as a fallback when onion transports keep failing.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint is the Tavily search API.
const DefaultEndpoint = "https://api.tavily.com/search"

// DefaultTimeout bounds one search request.
const DefaultTimeout = 30 * time.Second

// ErrNoAPIKey is returned by Search when no API key is configured.
var ErrNoAPIKey = errors.New("search API key is not configured")

// Result is one search hit.
type Result struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// TavilyProvider searches the clearnet through the Tavily API.
type TavilyProvider struct {
	apiKey   string
	endpoint string
	depth    string
	client   *http.Client
	logger   *slog.Logger
}

// Option configures a TavilyProvider.
type Option func(*TavilyProvider)

// WithEndpoint overrides the API endpoint.
func WithEndpoint(endpoint string) Option {
	return func(p *TavilyProvider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *TavilyProvider) {
		p.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *TavilyProvider) {
		p.logger = l
	}
}

// WithSearchDepth sets "basic" or "advanced" search depth.
func WithSearchDepth(depth string) Option {
	return func(p *TavilyProvider) {
		p.depth = depth
	}
}

// NewTavilyProvider returns a provider using apiKey.
func NewTavilyProvider(apiKey string, opts ...Option) *TavilyProvider {
	p := &TavilyProvider{
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		depth:    "advanced",
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: DefaultTimeout}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

type searchRequest struct {
	APIKey         string   `json:"api_key"`
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth"`
	IncludeAnswer  bool     `json:"include_answer"`
	IncludeDomains []string `json:"include_domains"`
	ExcludeDomains []string `json:"exclude_domains"`
	MaxResults     int      `json:"max_results"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// Search returns up to maxResults hits for query.
func (p *TavilyProvider) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if p.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	body, err := json.Marshal(searchRequest{
		APIKey:         p.apiKey,
		Query:          query,
		SearchDepth:    p.depth,
		IncludeDomains: []string{},
		ExcludeDomains: []string{},
		MaxResults:     maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	p.logger.Debug("clearnet search", "query", query, "max_results", maxResults)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort error detail
		return nil, fmt.Errorf("search API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	if len(out.Results) > maxResults {
		out.Results = out.Results[:maxResults]
	}
	p.logger.Debug("clearnet search finished", "query", query, "results", len(out.Results))
	return out.Results, nil
}

// ExtractSearchTerms implements the provider contract with the package-level
// ExtractSearchTerms.
func (p *TavilyProvider) ExtractSearchTerms(onionURL string) string {
	return ExtractSearchTerms(onionURL)
}

// ExtractSearchTerms derives clearnet search terms from an onion URL: the
// host label without common prefixes, separators turned into spaces, and
// context words appended when fewer than three terms remain.
func ExtractSearchTerms(onionURL string) string {
	terms := strings.TrimPrefix(strings.TrimPrefix(onionURL, "http://"), "https://")
	terms, _, _ = strings.Cut(terms, ".onion")

	for _, prefix := range []string{"www.", "hidden.", "dark.", "onion."} {
		terms = strings.TrimPrefix(terms, prefix)
	}
	terms = strings.NewReplacer("-", " ", "_", " ", ".", " ", "/", " ").Replace(terms)

	if len(strings.Fields(terms)) < 3 {
		terms += " dark web onion service"
	}
	return strings.Join(strings.Fields(terms), " ")
}
