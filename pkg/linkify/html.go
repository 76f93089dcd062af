package linkify

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

// linkPolicy permits anchors with safe URLs and nothing else.
func linkPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.NewPolicy()
		p.RequireParseableURLs(true)
		p.AllowURLSchemes("http", "https", "mailto")
		p.AllowAttrs("href").OnElements("a")
		p.AllowAttrs("target").Matching(regexp.MustCompile(`^_blank$`)).OnElements("a")
		p.AddTargetBlankToFullyQualifiedLinks(true)
		p.RequireNoReferrerOnFullyQualifiedLinks(true)
		policy = p
	})
	return policy
}

// HTML renders content as escaped text with links as anchors opening in a new
// tab.
func HTML(content string) string {
	var sb strings.Builder
	for s := range Segments(content) {
		switch s.Kind {
		case KindLink:
			sb.WriteString(`<a href="`)
			sb.WriteString(html.EscapeString(s.URL))
			sb.WriteString(`" target="_blank">`)
			sb.WriteString(html.EscapeString(s.Text))
			sb.WriteString(`</a>`)
		default:
			sb.WriteString(html.EscapeString(s.Text))
		}
	}
	return linkPolicy().Sanitize(sb.String())
}
