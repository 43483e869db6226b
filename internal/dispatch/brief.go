package dispatch

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/backlogd/internal/backlog"
)

// BuildBrief renders the natural-language task brief sent to the
// worker: task identity, enumerated acceptance criteria, optional
// free-text context, and the response contract.
func BuildBrief(story *backlog.Story, extra string) string {
	var b strings.Builder

	b.WriteString("Execute the following task:\n\n")
	fmt.Fprintf(&b, "## Task: %s\n", story.Title)
	fmt.Fprintf(&b, "ID: %s\n\n", story.ID)

	b.WriteString("## Acceptance Criteria:\n")
	for _, c := range story.AcceptanceCriteria {
		fmt.Fprintf(&b, "- %s\n", c)
	}

	if extra != "" {
		fmt.Fprintf(&b, "\n## Additional Context:\n%s\n", extra)
	}

	b.WriteString(`
## Instructions:
1. Implement the required changes to meet all acceptance criteria
2. Make minimal, focused changes
3. Return a JSON object with:
   - passed: boolean (true if all criteria met)
   - changes: description of changes made
   - learnings: any insights or gotchas discovered
   - error: error message if failed
`)

	return b.String()
}
