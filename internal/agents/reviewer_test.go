package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const leakyChange = "const password = \"hunter22\";\nconsole.log(password);\n"

func TestReviewer_StaticRulesWithSecurityFocus(t *testing.T) {
	agent, err := NewReviewerAgent(newScriptedModel("Looks fine to me."))
	require.NoError(t, err)

	report, err := agent.Review(context.Background(), ReviewRequest{
		CodeChanges: []CodeChange{{FilePath: "src/auth.js", NewContent: leakyChange}},
		ReviewFocus: []ReviewFocus{FocusSecurity},
	})
	require.NoError(t, err)

	require.Len(t, report.Findings, 2)
	assert.Equal(t, "SEC-001", report.Findings[0].ID)
	assert.Equal(t, SeverityCritical, report.Findings[0].Severity)
	assert.Equal(t, 1, report.Findings[0].LineStart)
	assert.Equal(t, "BP-001", report.Findings[1].ID)
	assert.Equal(t, 2, report.Findings[1].LineStart)

	assert.Equal(t, Rejected, report.OverallApproval)
	assert.Equal(t, []string{
		"Fix 1 critical issues before merging",
		"Security review recommended before deployment",
		"Consider adding more comprehensive test coverage",
	}, report.Recommendations)

	assert.InDelta(t, 85, report.Summary.CodeQualityScore, 1e-9)
	assert.InDelta(t, 80, report.Summary.SecurityScore, 1e-9)
	assert.InDelta(t, 97, report.Summary.MaintainabilityScore, 1e-9)
	assert.Equal(t, map[string]int{"Critical": 1, "Low": 1}, report.Summary.FindingsBySeverity)

	require.Len(t, report.AnnotatedDiffs, 1)
	diff := report.AnnotatedDiffs[0]
	assert.Equal(t, "2 findings in this file", diff.Summary)
	assert.InDelta(t, 80, diff.OverallScore, 1e-9)
	require.Len(t, diff.Hunks, 1)
	assert.Len(t, diff.Hunks[0].Annotations, 2)
	assert.Equal(t, AnnotationError, diff.Hunks[0].Annotations[0].AnnotationType)
}

func TestReviewer_SkipsSecurityPassWithoutFocus(t *testing.T) {
	model := newScriptedModel("nothing to report")
	agent, err := NewReviewerAgent(model)
	require.NoError(t, err)

	report, err := agent.Review(context.Background(), ReviewRequest{
		CodeChanges: []CodeChange{{FilePath: "src/auth.js", NewContent: leakyChange}},
	})
	require.NoError(t, err)

	require.Len(t, report.Findings, 1)
	assert.Equal(t, ReviewBestPractice, report.Findings[0].Category)
	assert.Equal(t, Approved, report.OverallApproval)
	assert.Empty(t, model.callsMatching("cybersecurity expert"))
	assert.Empty(t, model.callsMatching("performance engineering expert"))
	assert.Len(t, model.callsMatching("code quality review"), 1)
}

func TestReviewer_ParsesModelFindings(t *testing.T) {
	model := newScriptedModel("[]").
		on("performance engineering expert", `[{"severity": "high", "title": "N+1 query", "line_start": 3}]`)
	agent, err := NewReviewerAgent(model)
	require.NoError(t, err)

	report, err := agent.Review(context.Background(), ReviewRequest{
		CodeChanges: []CodeChange{
			{FilePath: "a.go", NewContent: "x"},
			{FilePath: "b.go", NewContent: "y"},
		},
		ReviewFocus: []ReviewFocus{FocusPerformance},
	})
	require.NoError(t, err)

	require.Len(t, report.Findings, 2)
	assert.Equal(t, "PERF-001", report.Findings[0].ID)
	assert.Equal(t, "PERF-002", report.Findings[1].ID)
	assert.Equal(t, "b.go", report.Findings[1].FilePath)
	assert.Equal(t, ReviewPerformance, report.Findings[1].Category)
	assert.Equal(t, 3, report.Findings[0].LineEnd)
	assert.Equal(t, ApprovedWithComments, report.OverallApproval)
	assert.InDelta(t, 90, report.Summary.CodeQualityScore, 1e-9)
}

func TestReviewer_NoChangesIsApproved(t *testing.T) {
	agent, err := NewReviewerAgent(newScriptedModel(""))
	require.NoError(t, err)

	report, err := agent.Review(context.Background(), ReviewRequest{Prompt: "Review the plan"})
	require.NoError(t, err)

	assert.Empty(t, report.Findings)
	assert.Equal(t, Approved, report.OverallApproval)
	assert.InDelta(t, 100, report.Summary.CodeQualityScore, 1e-9)
	assert.Equal(t, []string{"Consider adding more comprehensive test coverage"}, report.Recommendations)
}

func TestApprovalFor(t *testing.T) {
	high := func(n int) []ReviewFinding {
		out := make([]ReviewFinding, n)
		for i := range out {
			out[i].Severity = SeverityHigh
		}
		return out
	}
	tests := []struct {
		name     string
		findings []ReviewFinding
		want     ApprovalStatus
	}{
		{"none", nil, Approved},
		{"critical", []ReviewFinding{{Severity: SeverityCritical}}, Rejected},
		{"four high", high(4), RequiresChanges},
		{"one high", high(1), ApprovedWithComments},
		{"three high", high(3), ApprovedWithComments},
		{"only low", []ReviewFinding{{Severity: SeverityLow}}, Approved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, approvalFor(tt.findings, reviewSummary(tt.findings)))
		})
	}
}

func TestReviewSummary_ClampsScores(t *testing.T) {
	findings := make([]ReviewFinding, 8)
	for i := range findings {
		findings[i] = ReviewFinding{Severity: SeverityCritical, Category: ReviewSecurity}
	}
	summary := reviewSummary(findings)
	assert.Zero(t, summary.CodeQualityScore)
	assert.Zero(t, summary.SecurityScore)
	assert.InDelta(t, 100, summary.MaintainabilityScore, 1e-9)
}

func TestParseReviewFocus(t *testing.T) {
	f, ok := ParseReviewFocus("best_practices")
	require.True(t, ok)
	assert.Equal(t, FocusBestPractices, f)

	_, ok = ParseReviewFocus("vibes")
	assert.False(t, ok)
}

func TestBuildHunks(t *testing.T) {
	hunks := BuildHunks("a\nb\nc\n", "a\nB\nc\n")
	require.Len(t, hunks, 1)
	h := hunks[0]
	assert.Equal(t, 1, h.OldStart)
	assert.Equal(t, 3, h.OldLines)
	assert.Equal(t, 1, h.NewStart)
	assert.Equal(t, 3, h.NewLines)
	require.Len(t, h.Lines, 4)

	kinds := map[DiffLineType]int{}
	for _, l := range h.Lines {
		kinds[l.LineType]++
	}
	assert.Equal(t, map[DiffLineType]int{LineContext: 2, LineRemoved: 1, LineAdded: 1}, kinds)
}

func TestBuildHunks_NewFile(t *testing.T) {
	hunks := BuildHunks("", "x\ny\n")
	require.Len(t, hunks, 1)
	assert.Equal(t, 0, hunks[0].OldStart)
	assert.Equal(t, 0, hunks[0].OldLines)
	assert.Equal(t, 1, hunks[0].NewStart)
	assert.Equal(t, 2, hunks[0].NewLines)
}

func TestBuildHunks_SplitsDistantChanges(t *testing.T) {
	old := "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\n12\n"
	updated := "one\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\ntwelve\n"
	hunks := BuildHunks(old, updated)
	require.Len(t, hunks, 2)
	assert.Equal(t, 1, hunks[0].NewStart)
	assert.Equal(t, 9, hunks[1].NewStart)

	assert.Empty(t, BuildHunks("same\n", "same\n"))
}
