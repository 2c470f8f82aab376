package ui

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/kylegalloway/ariaflow/internal/tasks"
)

// FormatSummary renders the end-of-session table: one row per record with
// status, file name, size and message, followed by the totals.
func FormatSummary(completed, failed []tasks.CompletionRecord) string {
	var b strings.Builder
	b.WriteString("\n=== Download Summary ===\n")

	if len(completed)+len(failed) > 0 {
		tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "STATUS\tFILE\tSIZE\tMESSAGE")
		for _, r := range completed {
			fmt.Fprintf(tw, "Complete\t%s\t%s\t\n", r.DisplayName(), FormatBytes(r.CompletedLength))
		}
		for _, r := range failed {
			fmt.Fprintf(tw, "Failed\t%s\t%s\t%s\n", r.DisplayName(), FormatBytes(r.CompletedLength), r.FailureMessage())
		}
		tw.Flush()
	}

	fmt.Fprintf(&b, "Completed: %d  Failed: %d\n", len(completed), len(failed))
	return b.String()
}
