package feed

import (
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/feedshed/feedshed/app/database"
	"github.com/feedshed/feedshed/app/sanitize"
)

// Importer dispatches a fetched payload to the right parser and
// reconciles the parsed entries into stored posts. It mutates the source
// in place (last_result, last_success, metadata, interval on expiry) but
// never persists it; the fetcher saves the source once per poll.
type Importer struct {
	posts     database.PostRepository
	sanitizer *sanitize.Sanitizer

	xml     *XMLParser
	json    *JSONParser
	scraper *HTMLScraper
}

func NewImporter(posts database.PostRepository, sanitizer *sanitize.Sanitizer) *Importer {
	return &Importer{
		posts:     posts,
		sanitizer: sanitizer,
		xml:       NewXMLParser(sanitizer),
		json:      NewJSONParser(sanitizer),
		scraper:   NewHTMLScraper(sanitizer),
	}
}

// Import returns (ok, changed): ok reports whether the payload parsed at
// all, changed whether any new post appeared. Updates to existing posts
// do not count as change; change is what halves the poll interval.
func (im *Importer) Import(src *database.Source, body []byte, contentType string) (bool, bool) {
	doc, err := im.parse(src, body, contentType)
	if err != nil {
		if errors.Is(err, errUnknownType) {
			src.LastResult = "Unknown feed type: " + contentType
		} else {
			slog.Warn("feed parse failed", "source", src.Slug, "error", err)
			src.LastResult = "Feed Parse Error"
		}
		src.LastOutcome = database.OutcomeParseError
		return false, false
	}

	if doc.expired {
		// The document declared itself finished. Back off as far as the
		// interval clamp allows instead of disabling outright.
		src.Interval = expiredInterval
		src.LastResult = "This feed has expired"
		return false, false
	}

	if len(doc.entries) == 0 {
		src.LastResult = "Feed is empty"
		return false, false
	}

	now := time.Now().UTC()
	src.LastSuccess = &now
	im.applyMetadata(src, doc)

	changed := false
	// Documents arrive newest-first; reconcile oldest-first so created
	// and index stay monotonic together.
	for i := len(doc.entries) - 1; i >= 0; i-- {
		created, err := im.reconcile(src, &doc.entries[i])
		if err != nil {
			slog.Warn("failed to reconcile entry",
				"source", src.Slug, "guid", doc.entries[i].guid, "error", err)
			continue
		}
		if created {
			changed = true
		}
	}

	if changed {
		if err := im.assignIndexes(src); err != nil {
			slog.Warn("failed to assign post indexes", "source", src.Slug, "error", err)
		}
		if latest, err := im.posts.GetLatestPostTime(src.ID); err == nil {
			src.LastCreated = latest
		}
	}

	return true, changed
}

var errUnknownType = errors.New("unknown feed type")

func (im *Importer) parse(src *database.Source, body []byte, contentType string) (*parsed, error) {
	switch {
	case src.ScrapeConfigured():
		return im.scraper.Parse(src, body)
	case strings.Contains(contentType, "xml") || strings.Contains(contentType, "html") || firstByte(body) == '<':
		return im.xml.Parse(body, src.SiteURL)
	case strings.Contains(contentType, "json") || firstByte(body) == '{':
		return im.json.Parse(body, src.SiteURL)
	default:
		return nil, errUnknownType
	}
}

func firstByte(body []byte) byte {
	trimmed := strings.TrimLeftFunc(string(body[:min(len(body), 64)]), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\uFEFF'
	})
	if trimmed == "" {
		return 0
	}
	return trimmed[0]
}

// applyMetadata refreshes source-level fields from the document. The
// registry owns the name, so it is only adopted when still unset.
func (im *Importer) applyMetadata(src *database.Source, doc *parsed) {
	if src.Name == "" && doc.title != "" {
		src.Name = doc.title
	}
	if doc.siteURL != "" {
		src.SiteURL = doc.siteURL
	}
	if doc.imageURL != "" {
		src.ImageURL = doc.imageURL
	}
	if doc.description != "" {
		src.Description = im.sanitizer.RunStrict(doc.description)
	}
}

func (im *Importer) reconcile(src *database.Source, e *entry) (bool, error) {
	p, err := im.posts.GetPostBySourceGUID(src.ID, e.guid)
	if err != nil {
		return false, err
	}

	created := p == nil
	if created {
		p = &database.Post{
			SourceID: src.ID,
			GUID:     e.guid,
			Slug:     postSlug(e.title, e.guid),
			Found:    time.Now().UTC(),
		}
	}

	p.Title = e.title
	p.Link = e.link
	p.Author = e.author
	p.Body = e.body
	if e.imageURL != "" {
		p.ImageURL = e.imageURL
	}
	if e.createdKnown {
		p.Created = e.created
	} else if created {
		p.Created = time.Now().UTC()
	}
	if e.subtitle != nil {
		p.SubtitleHref = e.subtitle.href
		p.SubtitleLang = e.subtitle.lang
		p.SubtitleType = e.subtitle.typ
	}

	if created {
		err = im.posts.CreatePost(p)
	} else {
		err = im.posts.UpdatePost(p)
	}
	if errors.Is(err, database.ErrDuplicate) {
		// Upstream edited the permalink but kept the title, producing a
		// duplicate slug under a fresh guid. The earlier copy already
		// holds the content, so skip this one.
		slog.Info("skipping duplicate post", "source", src.Slug, "guid", e.guid)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := im.mergeEnclosures(p, e); err != nil {
		return created, err
	}
	if err := im.mergeMedia(p, e); err != nil {
		return created, err
	}
	if err := im.synthesizeEnclosure(p); err != nil {
		return created, err
	}

	return created, nil
}

func postSlug(title, guid string) string {
	if s := Slugify(title); s != "" {
		return s
	}
	return md5Hex(guid)[:12]
}

// mergeEnclosures refreshes enclosures already attached to the post by
// href match, and creates at most one enclosure for posts that have
// none. Feeds love rotating tracker-prefixed URLs, so a post that
// already carries an enclosure never gains another one.
func (im *Importer) mergeEnclosures(p *database.Post, e *entry) error {
	existing, err := im.posts.GetEnclosures(p.ID)
	if err != nil {
		return err
	}

	if len(existing) > 0 {
		if e.frozen {
			return nil
		}
		seen := make(map[string]bool, len(existing))
		for i := range existing {
			ee := &existing[i]
			if !seen[ee.Href] {
				for _, pe := range e.enclosures {
					if pe.href == ee.Href {
						ee.Length = capLength(pe.length)
						ee.Type = enclosureType(pe.typ)
						if err := im.posts.UpdateEnclosure(ee); err != nil {
							return err
						}
						break
					}
				}
			}
			seen[ee.Href] = true
		}
		return nil
	}

	for _, pe := range e.enclosures {
		return im.posts.CreateEnclosure(&database.Enclosure{
			PostID: p.ID,
			Href:   pe.href,
			Length: capLength(pe.length),
			Type:   enclosureType(pe.typ),
		})
	}
	return nil
}

func (im *Importer) mergeMedia(p *database.Post, e *entry) error {
	for _, md := range e.media {
		if md.url == "" || md.contentType == "" {
			continue
		}
		mc := database.MediaContent{
			PostID:      p.ID,
			URL:         md.url,
			ContentType: md.contentType,
			Duration:    md.duration,
		}
		if _, err := im.posts.GetOrCreateMediaContent(&mc); err != nil {
			return err
		}
	}
	return nil
}

// synthesizeEnclosure fabricates an enclosure from media metadata when a
// post has playable media:content but no enclosure of its own.
func (im *Importer) synthesizeEnclosure(p *database.Post) error {
	has, err := im.posts.HasEnclosures(p.ID)
	if err != nil || has {
		return err
	}

	candidates, err := im.posts.GetMediaContentByTypes(p.ID, []string{"video/mp4", "audio/mpeg"})
	if err != nil || len(candidates) == 0 {
		return err
	}

	mc := candidates[0]
	var length int64
	if mc.Duration != nil {
		length = *mc.Duration
	}
	return im.posts.CreateEnclosure(&database.Enclosure{
		PostID: p.ID,
		Href:   mc.URL,
		Length: length,
		Type:   mc.ContentType,
	})
}

func (im *Importer) assignIndexes(src *database.Source) error {
	unindexed, err := im.posts.GetUnindexedPosts(src.ID)
	if err != nil {
		return err
	}

	idx := src.MaxIndex
	for i := range unindexed {
		idx++
		if err := im.posts.SetPostIndex(unindexed[i].ID, idx); err != nil {
			return err
		}
	}
	src.MaxIndex = idx
	return nil
}

func capLength(n int64) int64 {
	if n < 0 {
		return 0
	}
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return n
}

func enclosureType(typ string) string {
	if typ == "" {
		return "audio/mpeg"
	}
	return typ
}
