package workflows

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/codexd/internal/agents"
)

// maxCommentFindings bounds the findings listed in a review comment.
const maxCommentFindings = 20

var severityOrder = []agents.Severity{
	agents.SeverityCritical,
	agents.SeverityHigh,
	agents.SeverityMedium,
	agents.SeverityLow,
	agents.SeverityInfo,
}

// formatReviewComment renders a review report as a pull request comment.
func formatReviewComment(report *agents.ReviewReport, requestID string) string {
	var b strings.Builder
	b.WriteString(reviewCommentMarker + "\n")
	fmt.Fprintf(&b, "## codexd review: %s\n\n", report.OverallApproval)

	s := report.Summary
	fmt.Fprintf(&b, "| Quality | Security | Maintainability |\n|---|---|---|\n| %.0f | %.0f | %.0f |\n\n",
		s.CodeQualityScore, s.SecurityScore, s.MaintainabilityScore)

	if len(report.Findings) == 0 {
		b.WriteString("No findings.\n")
	} else {
		var counts []string
		for _, sev := range severityOrder {
			if n := s.FindingsBySeverity[string(sev)]; n > 0 {
				counts = append(counts, fmt.Sprintf("%d %s", n, strings.ToLower(string(sev))))
			}
		}
		fmt.Fprintf(&b, "**%d findings** (%s)\n\n", len(report.Findings), strings.Join(counts, ", "))
		for i, f := range sortedFindings(report.Findings) {
			if i == maxCommentFindings {
				fmt.Fprintf(&b, "\n_%d more findings not shown._\n", len(report.Findings)-maxCommentFindings)
				break
			}
			fmt.Fprintf(&b, "- **%s** %s (`%s`)", f.Severity, f.Title, location(f))
			if f.Suggestion != "" {
				fmt.Fprintf(&b, ": %s", f.Suggestion)
			}
			b.WriteString("\n")
		}
	}

	if len(report.Recommendations) > 0 {
		b.WriteString("\n### Recommendations\n\n")
		for _, r := range report.Recommendations {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	fmt.Fprintf(&b, "\n<sub>request %s</sub>\n", requestID)
	return b.String()
}

// sortedFindings orders findings by severity, keeping report order within
// a severity.
func sortedFindings(findings []agents.ReviewFinding) []agents.ReviewFinding {
	out := make([]agents.ReviewFinding, 0, len(findings))
	for _, sev := range severityOrder {
		for _, f := range findings {
			if f.Severity == sev {
				out = append(out, f)
			}
		}
	}
	return out
}

func location(f agents.ReviewFinding) string {
	switch {
	case f.LineStart == 0:
		return f.FilePath
	case f.LineEnd > f.LineStart:
		return fmt.Sprintf("%s:%d-%d", f.FilePath, f.LineStart, f.LineEnd)
	}
	return fmt.Sprintf("%s:%d", f.FilePath, f.LineStart)
}

// formatPullRequestBody renders the description of a published pull
// request.
func formatPullRequestBody(prompt, requestID string, changes []agents.CodeChange) string {
	var b strings.Builder
	if prompt != "" {
		fmt.Fprintf(&b, "%s\n\n", prompt)
	}
	b.WriteString("### Changes\n\n")
	for _, c := range changes {
		fmt.Fprintf(&b, "- `%s` (%s)", c.FilePath, strings.ToLower(string(c.ChangeType)))
		if c.Explanation != "" {
			fmt.Fprintf(&b, ": %s", c.Explanation)
		}
		b.WriteString("\n")
	}
	if requestID != "" {
		fmt.Fprintf(&b, "\n<sub>generated by codexd, request %s</sub>\n", requestID)
	}
	return b.String()
}
