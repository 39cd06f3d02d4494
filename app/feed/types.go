// Package feed turns HTTP responses from a source's endpoint into stored
// posts. It covers the conditional fetch state machine, format detection,
// the XML/JSON parsers, the HTML scraper fallback and the reconciliation
// of parsed entries against the database.
package feed

import "time"

// entry is the format-independent shape every parser produces. The
// importer reconciles entries against stored posts, so the XML parser,
// the JSON parser and the scraper never touch the database directly.
type entry struct {
	guid     string
	title    string
	body     string
	link     string
	author   string
	imageURL string

	// created is only trusted when the upstream document carried a
	// parseable publish time; otherwise the importer keeps its own clock.
	created      time.Time
	createdKnown bool

	enclosures []enclosureData
	media      []mediaData
	subtitle   *subtitleData

	// frozen entries never refresh enclosures on posts that already
	// have one (scraped sources re-derive the same synthetic enclosure
	// every poll and must not churn it).
	frozen bool
}

type enclosureData struct {
	href   string
	length int64
	typ    string
}

type mediaData struct {
	url         string
	contentType string
	duration    *int64
}

type subtitleData struct {
	href string
	lang string
	typ  string
}

// parsed is what a format parser hands back for one document: the
// source-level metadata it saw plus the entries in document order.
type parsed struct {
	title       string
	siteURL     string
	description string
	imageURL    string

	// expired reports a JSON feed that declared itself finished.
	expired bool

	entries []entry
}
