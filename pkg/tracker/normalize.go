package tracker

import (
	"regexp"
	"strings"
)

// UnknownLocation is reported when no stack frame can be parsed
const UnknownLocation = "unknown"

type replacement struct {
	re   *regexp.Regexp
	with string
}

// messageRules run in order. A later rule never matches text produced by an
// earlier one: placeholders contain no digits, slashes, or hex prefixes. POSIX
// paths need a separator on their left, so "<NUM>/x" left by a first pass
// stays as is on the next.
var messageRules = []replacement{
	{regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`), "<UUID>"},
	{regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.\-]*://[^\s"'<>]+`), "<URL>"},
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`), "<TIME>"},
	{regexp.MustCompile(`\b0[xX][0-9a-fA-F]+\b`), "<ADDR>"},
	{regexp.MustCompile(`\b[A-Za-z]:[\\/][^\s"'<>]*`), "<PATH>"},
	{regexp.MustCompile(`(^|[\s"'(\[=,:])/[\w.\-]+(?:/[\w.\-]+)*/?`), "${1}<PATH>"},
	{regexp.MustCompile(`\b\d+\b`), "<NUM>"},
}

// stackDialects are tried in order; the first that matches wins.
var stackDialects = []*regexp.Regexp{
	// at handler (/srv/app/src/routes/cases.js:42:17)
	regexp.MustCompile(`\(([^()\s]+?):(\d+):\d+\)`),
	// handler@http://localhost:3000/src/app.js:42:17
	regexp.MustCompile(`@([^@\s]+?):(\d+):\d+`),
	// File "/srv/app/lib/parser.py", line 42, in parse
	regexp.MustCompile(`File "([^"]+)", line (\d+)`),
}

// projectRootMarkers are path segments where a shortened location begins
var projectRootMarkers = []string{"src", "app", "lib", "pkg", "internal", "cmd", "components"}

// Normalizer strips dynamic values out of error messages and reduces stack
// traces to a stable source location.
type Normalizer struct{}

// NewNormalizer creates a normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Message replaces identifiers, URLs, timestamps, addresses, paths and numbers
// with placeholder tokens. Normalizing twice yields the same string.
func (n *Normalizer) Message(msg string) string {
	for _, r := range messageRules {
		msg = r.re.ReplaceAllString(msg, r.with)
	}
	return strings.TrimSpace(msg)
}

// Location extracts "file:line" from the first recognized stack frame
func (n *Normalizer) Location(stack string) string {
	if strings.TrimSpace(stack) == "" {
		return UnknownLocation
	}
	for _, re := range stackDialects {
		m := re.FindStringSubmatch(stack)
		if m == nil {
			continue
		}
		return shortenPath(m[1]) + ":" + m[2]
	}
	return UnknownLocation
}

// shortenPath cuts everything before the earliest project-root marker
func shortenPath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		for _, marker := range projectRootMarkers {
			if seg == marker && i < len(segments)-1 {
				return strings.Join(segments[i:], "/")
			}
		}
	}
	return p
}
