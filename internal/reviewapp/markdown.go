package reviewapp

import (
	"fmt"
	"strings"
	"time"
)

// CommentMarker identifies the status comment this action maintains on the
// pull request, so redeploys update it instead of stacking new ones.
const CommentMarker = "Review app status"

// Markdown renders the result as the PR comment / step summary body.
func (r *Result) Markdown() string {
	url := "n/a"
	if r.URL != "" {
		url = fmt.Sprintf("[%s](%s)", r.Hostname, r.URL)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", CommentMarker)
	fmt.Fprintln(&b, "| App | Status | Preview | Updated (UTC) |")
	fmt.Fprintln(&b, "| --- | ------ | ------- | ------------- |")
	fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
		r.Name, r.Outcome, url, time.Now().UTC().Format(time.RFC3339))

	return b.String()
}
