package crawler

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/nao1215/onionscout/internal/tor"
)

// Link is one anchor of a page.
type Link struct {
	URL  string
	Text string
}

// ParseResult is what Parser extracts from one page.
type ParseResult struct {
	// Title is the trimmed text of the first <title>.
	Title string

	// Links holds every resolvable anchor in document order.
	Links []Link

	// OnionLinks holds the distinct onion URLs of the page: anchors pointing
	// at .onion hosts first, then v3 addresses mentioned in plain text.
	OnionLinks []string

	// MetaTags maps meta name (or OpenGraph property) to content.
	MetaTags map[string]string
}

// Parser extracts links relative to one base URL.
type Parser struct {
	baseURL *url.URL
}

// NewParser returns a Parser resolving links against baseURL.
func NewParser(baseURL string) (*Parser, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &Parser{baseURL: u}, nil
}

// Parse walks the document once.
func (p *Parser) Parse(r io.Reader) (*ParseResult, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{
		Links:      make([]Link, 0),
		OnionLinks: make([]string, 0),
		MetaTags:   make(map[string]string),
	}
	seen := make(map[string]bool)
	addOnion := func(u string) {
		if !seen[u] {
			seen[u] = true
			result.OnionLinks = append(result.OnionLinks, u)
		}
	}

	var text strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "title":
				if result.Title == "" {
					result.Title = strings.TrimSpace(nodeText(n))
				}
			case "a":
				if resolved := p.resolveURL(getAttr(n, "href")); resolved != "" {
					result.Links = append(result.Links, Link{URL: resolved, Text: collapseSpace(nodeText(n))})
					if tor.IsOnionURL(resolved) && !p.isSelf(resolved) {
						addOnion(resolved)
					}
				}
			case "meta":
				name := getAttr(n, "name")
				if name == "" {
					name = getAttr(n, "property")
				}
				if content := getAttr(n, "content"); name != "" && content != "" {
					result.MetaTags[strings.ToLower(name)] = content
				}
			case "script", "style":
				return
			}
		case html.TextNode:
			text.WriteString(n.Data)
			text.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, addr := range tor.ExtractV3Addresses(text.String()) {
		if strings.EqualFold(addr, p.baseURL.Hostname()) {
			continue
		}
		if !hostSeen(seen, addr) {
			addOnion("http://" + addr)
		}
	}
	return result, nil
}

// isSelf reports whether link is the page itself.
func (p *Parser) isSelf(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	u.Fragment = ""
	return strings.EqualFold(u.Host, p.baseURL.Host) && strings.TrimSuffix(u.Path, "/") == strings.TrimSuffix(p.baseURL.Path, "/") && u.RawQuery == p.baseURL.RawQuery
}

// hostSeen reports whether an onion URL for host is already collected.
func hostSeen(seen map[string]bool, host string) bool {
	for u := range seen {
		parsed, err := url.Parse(u)
		if err == nil && strings.EqualFold(parsed.Hostname(), host) {
			return true
		}
	}
	return false
}

// resolveURL resolves href against the base URL. Non-navigational schemes
// and bare fragments yield "".
func (p *Parser) resolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return ""
		}
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := p.baseURL.ResolveReference(u)
	resolved.Fragment = ""
	return resolved.String()
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
