package feed

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fixRelative rewrites protocol-relative and root-relative src attributes
// in embedded markup against the source's site URL. Feeds routinely ship
// body HTML with image paths that only resolve on their own origin.
func fixRelative(html, siteURL string) string {
	u, err := url.Parse(siteURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return html
	}

	scheme := u.Scheme
	base := scheme + "://" + u.Host

	html = strings.ReplaceAll(html, `src='//`, `src='`+scheme+`://`)
	html = strings.ReplaceAll(html, `src="//`, `src="`+scheme+`://`)

	html = strings.ReplaceAll(html, `src='/`, `src='`+base+`/`)
	html = strings.ReplaceAll(html, `src="/`, `src="`+base+`/`)

	return html
}

// resolveLocation resolves a root-relative redirect Location against the
// scheme and host of the URL being fetched. Absolute locations pass through.
func resolveLocation(location, currentURL string) string {
	if !strings.HasPrefix(location, "/") {
		return location
	}
	u, err := url.Parse(currentURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return location
	}
	return u.Scheme + "://" + u.Host + location
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lowercases, strips diacritics and collapses everything else to
// single dashes, capped at 200 characters.
func Slugify(s string) string {
	if flat, _, err := transform.String(deaccent, s); err == nil {
		s = flat
	}
	s = strings.ToLower(s)

	var b strings.Builder
	dash := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > 200 {
		slug = slug[:200]
	}
	return slug
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
