// Package linkify splits message text into plain text and link segments and
// renders them for HTML and terminal output.
package linkify

import (
	"iter"
	"net/url"
	"regexp"
	"strings"
)

type Kind string

const (
	KindText Kind = "text"
	KindLink Kind = "link"
)

// Segment is a run of text or a link. For links Text is the label.
type Segment struct {
	Kind Kind
	Text string
	URL  string
}

var (
	// group 1,2: [label](target); group 3: bare URL
	linkPattern         = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)|(https?://[^\s\x00-\x1f\x7f-\x9f]+)`)
	trailingPunctuation = regexp.MustCompile(`[.,;!?)]+$`)
)

// Segments yields the segments of content in order. Adjacent text is merged.
func Segments(content string) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		var pending strings.Builder
		flush := func() bool {
			if pending.Len() == 0 {
				return true
			}
			s := Segment{Kind: KindText, Text: pending.String()}
			pending.Reset()
			return yield(s)
		}

		last := 0
		for _, m := range linkPattern.FindAllStringSubmatchIndex(content, -1) {
			pending.WriteString(content[last:m[0]])
			last = m[1]

			if m[2] >= 0 {
				label, target := content[m[2]:m[3]], strings.TrimSpace(content[m[4]:m[5]])
				if !allowedURL(target) {
					pending.WriteString(content[m[0]:m[1]])
					continue
				}
				if !flush() || !yield(Segment{Kind: KindLink, Text: label, URL: target}) {
					return
				}
				continue
			}

			raw := content[m[6]:m[7]]
			cleaned := trailingPunctuation.ReplaceAllString(raw, "")
			if !allowedURL(cleaned) {
				pending.WriteString(raw)
				continue
			}
			if !flush() || !yield(Segment{Kind: KindLink, Text: cleaned, URL: cleaned}) {
				return
			}
			pending.WriteString(raw[len(cleaned):])
		}
		pending.WriteString(content[last:])
		flush()
	}
}

// Collect is Segments as a slice.
func Collect(content string) []Segment {
	var out []Segment
	for s := range Segments(content) {
		out = append(out, s)
	}
	return out
}

func allowedURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.Host != ""
	case "mailto":
		return u.Opaque != ""
	default:
		return false
	}
}
