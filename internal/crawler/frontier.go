package crawler

import (
	"net/url"
	"strings"
)

// Item is one queued URL. Remaining is how many more levels may be opened
// below it; zero means its links are not followed.
type Item struct {
	URL       string
	Remaining int
}

// Frontier is the breadth-first queue of one recursive crawl. A URL is
// accepted once; later pushes of the same normalized URL are ignored.
// It is not safe for concurrent use.
type Frontier struct {
	queue []Item
	seen  map[string]bool
}

// NewFrontier returns a frontier holding root.
func NewFrontier(root string, maxDepth int) *Frontier {
	f := &Frontier{seen: make(map[string]bool)}
	f.Push(root, max(maxDepth, 0))
	return f
}

// Push queues rawURL unless it was seen before. It reports whether the
// URL was added.
func (f *Frontier) Push(rawURL string, remaining int) bool {
	key := NormalizeURL(rawURL)
	if f.seen[key] {
		return false
	}
	f.seen[key] = true
	f.queue = append(f.queue, Item{URL: rawURL, Remaining: remaining})
	return true
}

// NextLevel removes and returns every queued item that shares the depth of
// the head of the queue. Items pushed while a level is processed belong to
// the next level.
func (f *Frontier) NextLevel() []Item {
	if len(f.queue) == 0 {
		return nil
	}
	remaining := f.queue[0].Remaining
	n := 0
	for n < len(f.queue) && f.queue[n].Remaining == remaining {
		n++
	}
	level := append([]Item(nil), f.queue[:n]...)
	f.queue = f.queue[n:]
	return level
}

// Len returns the number of queued items.
func (f *Frontier) Len() int {
	return len(f.queue)
}

// NormalizeURL returns the deduplication key of rawURL: scheme and host
// lowercased, fragment dropped, and an empty path written as "/".
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}
