package model

import (
	"errors"
	"strings"
	"testing"
)

func TestCrawlResultErrors(t *testing.T) {
	t.Parallel()

	r := NewCrawlResult("http://example.onion")
	if r.Failed() {
		t.Fatal("expected a fresh result not to be failed")
	}

	r.AddError(nil)
	if r.Failed() {
		t.Error("expected a nil error to be ignored")
	}

	r.AddError(errors.New("connection refused"))
	if !r.Failed() {
		t.Error("expected the result to be failed")
	}
	if len(r.Errors) != 1 || r.Errors[0] != "connection refused" {
		t.Errorf("unexpected errors %v", r.Errors)
	}
}

func TestCrawlResultMerge(t *testing.T) {
	t.Parallel()

	root := NewCrawlResult("http://root.onion")
	root.Content = "root text"
	root.Links = []string{"http://a.onion"}

	child := NewCrawlResult("http://a.onion")
	child.Content = "child text"
	child.Links = []string{"http://b.onion"}
	child.AddError(errors.New("timeout on c"))

	root.Merge(child)
	root.Merge(nil)

	if !strings.Contains(root.Content, "--- Subpage: http://a.onion ---\nchild text") {
		t.Errorf("expected the child content under a subpage marker, got %q", root.Content)
	}
	if len(root.Links) != 2 || root.Links[1] != "http://b.onion" {
		t.Errorf("unexpected links %v", root.Links)
	}
	if !root.Failed() {
		t.Error("expected child errors to be carried")
	}

	empty := NewCrawlResult("http://d.onion")
	root.Merge(empty)
	if strings.Contains(root.Content, "http://d.onion") {
		t.Error("expected an empty child not to add a marker")
	}
}

func TestBatchStatsAdd(t *testing.T) {
	t.Parallel()

	ok := NewCrawlResult("http://a.onion")
	ok.Links = []string{"http://b.onion", "http://c.onion"}

	filtered := NewCrawlResult("http://d.onion")
	filtered.WasFiltered = true

	failed := NewCrawlResult("http://e.onion")
	failed.AddError(errors.New("down"))

	var stats BatchStats
	for _, r := range []*CrawlResult{ok, filtered, failed, nil} {
		stats.Add(r)
	}

	want := BatchStats{Successful: 2, Failed: 2, NewLinksDiscovered: 2, FilteredForSafety: 1}
	if stats != want {
		t.Errorf("got %+v, want %+v", stats, want)
	}
}
