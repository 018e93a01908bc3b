package gate

import (
	"regexp"
	"strings"
)

// DefaultEndMarker is the token the persona embeds in a reply to signal
// that the conversation is over.
const DefaultEndMarker = "[end]"

// Marker detects and removes the termination token. The token is matched
// case-insensitively anywhere in the text and every occurrence is removed;
// it is the only bridge between free-form generation output and the state
// machine, so all handling stays in this one place.
type Marker struct {
	token string
	re    *regexp.Regexp
}

// NewMarker compiles a Marker for the given token. An empty token falls
// back to DefaultEndMarker.
func NewMarker(token string) Marker {
	if token == "" {
		token = DefaultEndMarker
	}
	return Marker{
		token: token,
		re:    regexp.MustCompile(`(?i)` + regexp.QuoteMeta(token)),
	}
}

// Present reports whether the reply contains the termination token.
func (m Marker) Present(s string) bool {
	return m.re.MatchString(s)
}

// Strip removes every occurrence of the token and trims the leftover
// whitespace at the edges.
func (m Marker) Strip(s string) string {
	return strings.TrimSpace(m.re.ReplaceAllString(s, ""))
}
