package model

import (
	"fmt"
	"time"
)

// Status is the crawl state of a catalogued link.
type Status string

// Link statuses. StatusBlacklisted is terminal: a blacklisted link is never
// selected for crawling or rediscovered.
const (
	StatusNew              Status = "new"
	StatusActive           Status = "active"
	StatusInactive         Status = "inactive"
	StatusError            Status = "error"
	StatusBlacklisted      Status = "blacklisted"
	StatusClearnetFallback Status = "clearnet_fallback"
)

// Well-known link categories used by the discovery phases.
const (
	CategoryDirectory    = "directory"
	CategorySearchEngine = "search_engine"
)

// ParseStatus converts a string into a Status.
// It returns an error for values outside the known set.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusNew, StatusActive, StatusInactive, StatusError, StatusBlacklisted, StatusClearnetFallback:
		return st, nil
	default:
		return "", fmt.Errorf("unknown link status %q", s)
	}
}

// IsTerminal reports whether no further crawl work may be scheduled for the status.
func (s Status) IsTerminal() bool {
	return s == StatusBlacklisted
}

// LinkRecord is one discovered URL and its crawl state.
// URL is the unique key across the whole catalog.
type LinkRecord struct {
	ID              int64          `json:"-"`
	URL             string         `json:"url"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Category        string         `json:"category"`
	ContentPreview  string         `json:"content_preview,omitempty"`
	Status          Status         `json:"status"`
	DiscoverySource string         `json:"discovery_source"`
	TrustScore      float64        `json:"trust_score"`
	Tags            []string       `json:"tags"`
	Metadata        map[string]any `json:"metadata"`
	LastChecked     time.Time      `json:"last_checked"`
}

// NewLink describes a link to insert into the catalog.
// Only URL is required.
type NewLink struct {
	URL             string
	Title           string
	Description     string
	Category        string
	DiscoverySource string
	Tags            []string
	Metadata        map[string]any
}

// LinkPatch holds the optional fields of a link update.
// A nil field is left untouched. Every applied patch also refreshes LastChecked.
type LinkPatch struct {
	Title          *string
	Description    *string
	Category       *string
	ContentPreview *string
	Status         *Status
	TrustScore     *float64
	Tags           []string
	Metadata       map[string]any
}

// Patch starts an empty LinkPatch.
//
//	patch := model.Patch().WithStatus(model.StatusActive).WithTitle("Index")
func Patch() *LinkPatch {
	return &LinkPatch{}
}

// WithTitle sets the title.
func (p *LinkPatch) WithTitle(title string) *LinkPatch {
	p.Title = &title
	return p
}

// WithDescription sets the description.
func (p *LinkPatch) WithDescription(description string) *LinkPatch {
	p.Description = &description
	return p
}

// WithCategory sets the category.
func (p *LinkPatch) WithCategory(category string) *LinkPatch {
	p.Category = &category
	return p
}

// WithContentPreview sets the stored content preview.
func (p *LinkPatch) WithContentPreview(preview string) *LinkPatch {
	p.ContentPreview = &preview
	return p
}

// WithStatus sets the status.
func (p *LinkPatch) WithStatus(status Status) *LinkPatch {
	p.Status = &status
	return p
}

// WithTrustScore sets the trust score.
func (p *LinkPatch) WithTrustScore(score float64) *LinkPatch {
	p.TrustScore = &score
	return p
}

// WithTags replaces the tag list.
func (p *LinkPatch) WithTags(tags ...string) *LinkPatch {
	p.Tags = tags
	return p
}

// WithMetadata replaces the metadata map.
func (p *LinkPatch) WithMetadata(metadata map[string]any) *LinkPatch {
	p.Metadata = metadata
	return p
}

// IsEmpty reports whether the patch changes nothing but LastChecked.
func (p *LinkPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Category == nil &&
		p.ContentPreview == nil && p.Status == nil && p.TrustScore == nil &&
		p.Tags == nil && p.Metadata == nil
}

// Outcome is the result recorded in a crawl history entry.
type Outcome string

// Crawl history outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// CrawlHistoryEntry is the append-only audit record of one crawl attempt.
type CrawlHistoryEntry struct {
	URL          string        `json:"url"`
	Timestamp    time.Time     `json:"timestamp"`
	Outcome      Outcome       `json:"outcome"`
	ResponseTime time.Duration `json:"response_time"`
	ErrorMessage string        `json:"error_message,omitempty"`
}
