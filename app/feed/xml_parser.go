package feed

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/mmcdole/gofeed"

	"github.com/feedshed/feedshed/app/sanitize"
)

// XMLParser handles RSS and Atom documents. Format detection and version
// differences are delegated to gofeed; this layer only normalizes the
// result into entries.
type XMLParser struct {
	parser    *gofeed.Parser
	sanitizer *sanitize.Sanitizer
}

func NewXMLParser(sanitizer *sanitize.Sanitizer) *XMLParser {
	return &XMLParser{
		parser:    gofeed.NewParser(),
		sanitizer: sanitizer,
	}
}

func (p *XMLParser) Parse(body []byte, siteURL string) (*parsed, error) {
	f, err := p.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed document: %w", err)
	}

	out := &parsed{
		title:       f.Title,
		siteURL:     f.Link,
		description: f.Description,
	}
	if f.Image != nil {
		out.imageURL = f.Image.URL
	}

	// Relative asset URLs in entry bodies resolve against the document's
	// own link when it has one, the stored site URL otherwise.
	base := siteURL
	if f.Link != "" {
		base = f.Link
	}

	for _, item := range f.Items {
		out.entries = append(out.entries, p.parseItem(item, base))
	}

	return out, nil
}

func (p *XMLParser) parseItem(item *gofeed.Item, base string) entry {
	e := entry{
		title: p.sanitizer.RunStrict(item.Title),
		link:  item.Link,
	}

	body := item.Content
	if len(item.Description) > len(body) {
		body = item.Description
	}
	if item.ITunesExt != nil && len(item.ITunesExt.Summary) > len(body) {
		body = item.ITunesExt.Summary
	}
	e.body = fixRelative(p.sanitizer.RunStrict(body), base)

	e.guid = item.GUID
	if e.guid == "" {
		e.guid = item.Link
	}
	if e.guid == "" {
		e.guid = md5Hex(e.body)
	}

	if item.Author != nil {
		e.author = item.Author.Name
	}
	if e.author == "" && len(item.Authors) > 0 {
		e.author = item.Authors[0].Name
	}
	if e.author == "" && item.ITunesExt != nil {
		e.author = item.ITunesExt.Author
	}

	if item.Image != nil {
		e.imageURL = item.Image.URL
	}
	if e.imageURL == "" && item.ITunesExt != nil {
		e.imageURL = item.ITunesExt.Image
	}

	if item.PublishedParsed != nil {
		e.created = item.PublishedParsed.UTC()
		e.createdKnown = true
	} else if item.UpdatedParsed != nil {
		e.created = item.UpdatedParsed.UTC()
		e.createdKnown = true
	}

	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		length, _ := strconv.ParseInt(enc.Length, 10, 64)
		e.enclosures = append(e.enclosures, enclosureData{
			href:   enc.URL,
			length: length,
			typ:    enc.Type,
		})
	}

	p.parseMediaExtensions(item, &e)

	return e
}

// parseMediaExtensions pulls media:content and media:subTitle elements
// out of gofeed's raw extension tree.
func (p *XMLParser) parseMediaExtensions(item *gofeed.Item, e *entry) {
	media, ok := item.Extensions["media"]
	if !ok {
		return
	}

	for _, ext := range media["content"] {
		url := ext.Attrs["url"]
		if url == "" {
			continue
		}
		md := mediaData{
			url:         url,
			contentType: ext.Attrs["type"],
		}
		// Durations show up as "123.5" in the wild; whole seconds are enough.
		if f, err := strconv.ParseFloat(ext.Attrs["duration"], 64); err == nil {
			d := int64(f)
			md.duration = &d
		}
		e.media = append(e.media, md)
	}

	subs := media["subTitle"]
	if len(subs) == 0 {
		subs = media["subtitle"]
	}
	for _, ext := range subs {
		href := ext.Attrs["href"]
		if href == "" {
			continue
		}
		e.subtitle = &subtitleData{
			href: href,
			lang: ext.Attrs["lang"],
			typ:  ext.Attrs["type"],
		}
		break
	}
}
