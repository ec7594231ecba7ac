package channels

import (
	"fmt"
	"strings"

	"github.com/inspectly/report-scheduler/internal/notifier"
)

// formatReportText renders a report payload as plain text shared by the
// delivery channels
func formatReportText(payload notifier.ReportPayload) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", payload.Title)
	fmt.Fprintf(&b, "Period: %s to %s\n\n",
		payload.PeriodStart.Format("Jan 2, 2006"), payload.PeriodEnd.Format("Jan 2, 2006"))
	fmt.Fprintf(&b, "Inspections: %d total, %d passed, %d failed\n",
		payload.Total, payload.Passed, payload.Failed)
	if payload.Total > 0 {
		fmt.Fprintf(&b, "Average score: %.1f\n", payload.AverageScore)
	}

	if len(payload.Restaurants) > 0 {
		b.WriteString("\nBy restaurant:\n")
		for _, r := range payload.Restaurants {
			fmt.Fprintf(&b, "  %s: %d inspections, %d passed, avg %.1f\n",
				r.Name, r.Total, r.Passed, r.AverageScore)
		}
	}
	return b.String()
}
