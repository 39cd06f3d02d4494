package feed

import (
	"bytes"
	"fmt"
	"time"

	"github.com/araddon/dateparse"
	gofeedjson "github.com/mmcdole/gofeed/json"

	"github.com/feedshed/feedshed/app/sanitize"
)

// JSONParser handles JSON Feed documents. It uses gofeed's format-level
// parser rather than the universal one because the translation layer
// drops fields this engine needs: the expired flag, attachment sizes and
// the content_html/content_text distinction.
type JSONParser struct {
	parser    *gofeedjson.Parser
	sanitizer *sanitize.Sanitizer
}

func NewJSONParser(sanitizer *sanitize.Sanitizer) *JSONParser {
	return &JSONParser{
		parser:    &gofeedjson.Parser{},
		sanitizer: sanitizer,
	}
}

func (p *JSONParser) Parse(body []byte, siteURL string) (*parsed, error) {
	f, err := p.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSON feed: %w", err)
	}

	out := &parsed{
		title:       f.Title,
		siteURL:     f.HomePageURL,
		description: f.Description,
		imageURL:    f.Icon,
		expired:     f.Expired,
	}
	if out.imageURL == "" {
		out.imageURL = f.Favicon
	}

	base := siteURL
	if f.HomePageURL != "" {
		base = f.HomePageURL
	}

	for _, item := range f.Items {
		if item == nil {
			continue
		}
		out.entries = append(out.entries, p.parseItem(item, base))
	}

	return out, nil
}

func (p *JSONParser) parseItem(item *gofeedjson.Item, base string) entry {
	e := entry{
		title: p.sanitizer.RunStrict(item.Title),
		link:  item.URL,
	}
	if e.link == "" {
		e.link = item.ExternalURL
	}

	body := item.ContentHTML
	if body == "" {
		body = item.ContentText
	}
	if body == "" {
		body = item.Summary
	}
	e.body = fixRelative(p.sanitizer.RunStrict(body), base)

	e.guid = item.ID
	if e.guid == "" {
		e.guid = e.link
	}
	if e.guid == "" {
		e.guid = md5Hex(e.body)
	}

	if item.Author != nil {
		e.author = item.Author.Name
	}
	if e.author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
		e.author = item.Authors[0].Name
	}

	e.imageURL = item.Image
	if e.imageURL == "" {
		e.imageURL = item.BannerImage
	}

	if t, ok := parseJSONDate(item.DatePublished); ok {
		e.created = t
		e.createdKnown = true
	} else if t, ok := parseJSONDate(item.DateModified); ok {
		e.created = t
		e.createdKnown = true
	}

	if item.Attachments != nil {
		for _, att := range *item.Attachments {
			if att.URL == "" {
				continue
			}
			e.enclosures = append(e.enclosures, enclosureData{
				href:   att.URL,
				length: int64(att.SizeInBytes),
				typ:    att.MimeType,
			})
			if att.DurationInSeconds > 0 {
				d := int64(att.DurationInSeconds)
				e.media = append(e.media, mediaData{
					url:         att.URL,
					contentType: att.MimeType,
					duration:    &d,
				})
			}
		}
	}

	return e
}

// parseJSONDate accepts the RFC 3339 timestamps the format mandates and
// degrades to fuzzy parsing for the looser strings found in the wild.
func parseJSONDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := dateparse.ParseAny(s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
