package backlog

import (
	"regexp"
	"strings"
)

var (
	prdBlockRe = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n```")
	contextRe  = regexp.MustCompile(`(?s)## Additional Context\n(.*?)(?:\n##|\z)`)
)

// ExtractFromQuery pulls the PRD document out of a free-text
// orchestration query. The document travels as a ```json fenced block.
func ExtractFromQuery(query string) (*Backlog, error) {
	m := prdBlockRe.FindStringSubmatch(query)
	if m == nil {
		return nil, ErrNoPRDFound
	}
	return Parse([]byte(m[1]))
}

// ExtractContext pulls the "## Additional Context" section out of a
// query. Returns the empty string when the section is absent.
func ExtractContext(query string) string {
	m := contextRe.FindStringSubmatch(query)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
