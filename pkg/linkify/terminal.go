package linkify

import (
	"strings"

	"github.com/muesli/termenv"
)

// Terminal renders content for a terminal. Links become OSC 8 hyperlinks
// unless profile is Ascii, where the URL is printed after the label. Escape
// sequences in content are dropped.
func Terminal(content string, profile termenv.Profile) string {
	var sb strings.Builder
	for s := range Segments(Sanitize(content)) {
		if s.Kind != KindLink {
			sb.WriteString(s.Text)
			continue
		}
		if profile == termenv.Ascii {
			sb.WriteString(s.Text)
			if s.Text != s.URL {
				sb.WriteString(" <")
				sb.WriteString(s.URL)
				sb.WriteString(">")
			}
			continue
		}
		label := profile.String(s.Text).Underline().String()
		sb.WriteString(termenv.Hyperlink(s.URL, label))
	}
	return sb.String()
}
