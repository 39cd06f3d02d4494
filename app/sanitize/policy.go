package sanitize

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the injected sanitizer configuration: tags that survive and,
// per tag, the attributes that survive with them.
type Policy struct {
	Tags       []string            `yaml:"tags"`
	Attributes map[string][]string `yaml:"attributes"`
}

// DefaultPolicy returns the allow-lists used when no override file is given.
func DefaultPolicy() Policy {
	return Policy{
		Tags: []string{
			"a", "abbr", "acronym", "b", "blockquote", "br", "caption", "center",
			"cite", "code", "col", "colgroup", "dd", "del", "dfn", "dl", "dt",
			"em", "figcaption", "figure", "h1", "h2", "h3", "h4", "h5", "h6",
			"hr", "i", "img", "ins", "kbd", "li", "ol", "p", "pre", "q", "s",
			"samp", "small", "span", "strike", "strong", "sub", "sup", "table",
			"tbody", "td", "tfoot", "th", "thead", "tr", "tt", "u", "ul", "var",
		},
		Attributes: map[string][]string{
			"a":          {"href", "title", "rel"},
			"abbr":       {"title"},
			"acronym":    {"title"},
			"blockquote": {"cite"},
			"col":        {"span", "width"},
			"colgroup":   {"span", "width"},
			"del":        {"cite", "datetime"},
			"img":        {"src", "alt", "title", "width", "height", "align", "hspace"},
			"ins":        {"cite", "datetime"},
			"ol":         {"start", "type"},
			"q":          {"cite"},
			"table":      {"summary", "width", "align"},
			"td":         {"abbr", "colspan", "rowspan", "width", "align", "valign"},
			"th":         {"abbr", "colspan", "rowspan", "scope", "width", "align", "valign"},
			"ul":         {"type"},
		},
	}
}

// LoadPolicy reads a YAML policy override file.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read sanitize policy: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse sanitize policy: %w", err)
	}

	if len(p.Tags) == 0 {
		return Policy{}, fmt.Errorf("sanitize policy defines no tags")
	}

	return p, nil
}

// legacyAttributes are presentation leftovers stripped by the strict
// variant on every tag, whatever the per-tag allow-lists say.
var legacyAttributes = []string{"align", "valign", "hspace"}

// withoutLegacy returns a copy of the policy with the legacy attributes
// removed from every per-tag allow-list.
func (p Policy) withoutLegacy() Policy {
	out := Policy{Tags: p.Tags, Attributes: make(map[string][]string, len(p.Attributes))}
	for tag, attrs := range p.Attributes {
		var kept []string
		for _, a := range attrs {
			legacy := false
			for _, bad := range legacyAttributes {
				if a == bad {
					legacy = true
					break
				}
			}
			if !legacy {
				kept = append(kept, a)
			}
		}
		if len(kept) > 0 {
			out.Attributes[tag] = kept
		}
	}
	return out
}
