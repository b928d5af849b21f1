package crawler

import (
	"bytes"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// DefaultPreviewLength is the rune length of a content preview.
const DefaultPreviewLength = 500

// Summary is the storable digest of one page.
type Summary struct {
	Title       string
	Description string
	// Text is the visible text with markup removed and whitespace collapsed.
	Text string
}

// textPolicy strips every tag and keeps words of adjacent blocks apart.
var textPolicy = func() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}()

// Summarize extracts title, description and plain text from an HTML body.
// The description comes from meta description, then og:description, then
// the first paragraph.
func Summarize(body []byte) Summary {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Summary{Text: collapseSpace(html.UnescapeString(textPolicy.Sanitize(string(body))))}
	}

	doc.Find("script, style, noscript, template").Remove()

	s := Summary{Title: collapseSpace(doc.Find("title").First().Text())}
	for _, sel := range []string{`meta[name="description"]`, `meta[property="og:description"]`} {
		if content, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(content) != "" {
			s.Description = collapseSpace(content)
			break
		}
	}
	if s.Description == "" {
		s.Description = collapseSpace(doc.Find("p").First().Text())
	}

	bodyHTML, err := doc.Find("body").Html()
	if err != nil || bodyHTML == "" {
		bodyHTML = doc.Text()
	}
	s.Text = collapseSpace(html.UnescapeString(textPolicy.Sanitize(bodyHTML)))
	return s
}

// Truncate returns the first n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// Preview returns the first n runes of the page text.
func (s Summary) Preview(n int) string {
	return Truncate(s.Text, n)
}
