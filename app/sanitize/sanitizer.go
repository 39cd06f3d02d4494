// Package sanitize strips feed-supplied HTML down to configured
// allow-lists. Policies are injected, never mutated globally, so
// concurrent use across parsers is safe.
package sanitize

import (
	"github.com/microcosm-cc/bluemonday"
)

type Sanitizer struct {
	normal *bluemonday.Policy
	strict *bluemonday.Policy
}

func New(policy Policy) *Sanitizer {
	return &Sanitizer{
		normal: build(policy),
		strict: build(policy.withoutLegacy()),
	}
}

func build(policy Policy) *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(policy.Tags...)
	for tag, attrs := range policy.Attributes {
		if len(attrs) == 0 {
			continue
		}
		p.AllowAttrs(attrs...).OnElements(tag)
	}
	return p
}

// Run removes any tag or attribute outside the allow-lists, preserving
// text content and allowed markup. Malformed input degrades to
// best-effort stripped output; it never fails.
func (s *Sanitizer) Run(html string) string {
	return s.normal.Sanitize(html)
}

// RunStrict behaves like Run but additionally drops the align, valign and
// hspace attributes on every tag (legacy-markup cleanup).
func (s *Sanitizer) RunStrict(html string) string {
	return s.strict.Sanitize(html)
}

// Sanitize applies one-off allow-lists to html. Prefer a shared Sanitizer
// for repeated use; this exists for callers with caller-supplied policy.
func Sanitize(html string, tags []string, attributes map[string][]string) string {
	return build(Policy{Tags: tags, Attributes: attributes}).Sanitize(html)
}
