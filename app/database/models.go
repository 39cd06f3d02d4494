package database

import (
	"time"
)

// DistantPast is the default due_poll for new sources so they poll first.
var DistantPast = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// Fetch outcomes persisted in sources.last_outcome. The original design
// overloaded status_code with a fake status 1 for proxy failures; a
// dedicated enum keeps status_code holding real HTTP statuses only.
const (
	OutcomeOK           = "ok"
	OutcomeNotModified  = "not_modified"
	OutcomeNetworkError = "network_error"
	OutcomeProxyFailure = "proxy_failure"
	OutcomeHTTPError    = "http_error"
	OutcomeBlocked      = "blocked"
	OutcomeMoved        = "moved"
	OutcomeParseError   = "parse_error"
)

// Source is a pollable feed endpoint.
type Source struct {
	ID          string
	Name        string
	Slug        string
	FeedURL     string
	SiteURL     string
	ImageURL    string
	Description string

	// Polling state
	LastPolled   *time.Time
	DuePoll      time.Time
	ETag         string
	LastModified string // opaque validator, passed back verbatim
	Interval     int    // minutes, clamped to [60, 1440]

	// Outcome state
	LastResult    string
	LastOutcome   string
	StatusCode    int // last real HTTP status; 0 = network failure
	LastSuccess   *time.Time
	LastChange    *time.Time
	Live          bool
	UpdateEnabled bool

	// Anti-bot state
	IsCloudflare bool
	Last302URL   string
	Last302Start *time.Time

	// Sequencing
	MaxIndex int

	NumSubs     int
	LastCreated *time.Time

	// Raw-HTML extraction config (opaque CSS-like selectors)
	ItemSelector  string
	LinkSelector  string
	TitleSelector string
	DateSelector  string

	ExtractContent bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScrapeConfigured reports whether the source is set up for raw-HTML scraping.
func (s *Source) ScrapeConfigured() bool {
	return s.ItemSelector != "" || s.LinkSelector != "" || s.TitleSelector != "" || s.DateSelector != ""
}

// Post is one feed entry belonging to exactly one Source.
type Post struct {
	ID       string
	SourceID string
	GUID     string
	Slug     string
	Title    string
	Body     string
	Link     string
	Author   string
	ImageURL string
	Created  time.Time // best-effort publish timestamp
	Found    time.Time // first-seen, immutable
	Index    int       // 0 = unassigned, back-filled after import

	SubtitleHref string
	SubtitleLang string
	SubtitleType string

	BodyExtractedAt *time.Time
}

// Enclosure is a downloadable attachment of a Post.
type Enclosure struct {
	ID     string
	PostID string
	Href   string
	Length int64 // bytes, non-negative, capped to 32-bit range
	Type   string
}

// MediaContent holds metadata from <media:content>-style tags.
type MediaContent struct {
	ID          string
	PostID      string
	URL         string
	ContentType string
	Duration    *int64 // seconds
}

// WebProxy is a candidate outbound proxy address.
type WebProxy struct {
	ID      string
	Address string
}
