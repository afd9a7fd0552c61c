package agents

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLogs() []LogEntry {
	return []LogEntry{
		{Timestamp: "2024-01-01T10:00:00Z", Level: "error", Source: "database", Message: "Connection timeout after 30s"},
		{Timestamp: "2024-01-01T10:00:05Z", Level: "ERROR", Source: "database", Message: "Connection timeout after 30s"},
		{Timestamp: "2024-01-01T10:00:09Z", Level: LevelError, Source: "database", Message: "Connection timeout after 30s"},
		{Timestamp: "2024-01-01T10:01:00Z", Level: LevelInfo, Source: "api", Message: "request served"},
		{
			Timestamp: "2024-01-01T10:02:00Z", Level: "fatal", Source: "cache", Message: "out of memory",
			Context: map[string]string{"file": "src/cache.js"},
		},
	}
}

func TestDebugAgent_DerivesReportFromLogs(t *testing.T) {
	model := newScriptedModel("unclear")
	agent, err := NewDebugAgent(model)
	require.NoError(t, err)

	report, err := agent.Analyze(context.Background(), DebugRequest{
		Logs:          sampleLogs(),
		ErrorContext:  map[string]string{"env": "prod"},
		CodebaseFiles: []CodebaseFile{{Path: "src/cache.js", Content: "cache()", Language: "javascript"}},
	})
	require.NoError(t, err)

	var kinds []PatternType
	for _, p := range report.Analysis.Patterns {
		kinds = append(kinds, p.PatternType)
	}
	assert.Equal(t, []PatternType{PatternErrorSpike, PatternTimeout, PatternMemoryGrowth}, kinds)

	issues := report.Analysis.Issues
	require.Len(t, issues, 2)
	assert.Equal(t, "ISSUE-001", issues[0].ID)
	assert.Equal(t, IssueHigh, issues[0].Severity)
	assert.Equal(t, IssueIntegration, issues[0].Category)
	assert.Len(t, issues[0].RelatedLogs, 3)
	assert.Equal(t, IssueCritical, issues[1].Severity)
	assert.Equal(t, IssueMemory, issues[1].Category)
	assert.Equal(t, []string{"src/cache.js"}, issues[1].AffectedFiles)

	require.Len(t, report.Analysis.RootCauses, 2)
	assert.Equal(t, "RC-ISSUE-002", report.Analysis.RootCauses[1].ID)
	assert.InDelta(t, 0.75, report.Analysis.RootCauses[1].Confidence, 1e-9)
	assert.InDelta(t, 0.85, report.Analysis.Confidence, 1e-9)

	var recIDs []string
	for _, r := range report.Analysis.Recommendations {
		recIDs = append(recIDs, r.ID)
	}
	assert.Equal(t, []string{"REC-001", "REC-MEM-ISSUE-002"}, recIDs)
	assert.Equal(t, PriorityImmediate, report.Analysis.Recommendations[0].Priority)

	require.Len(t, report.PatchSuggestions, 1)
	assert.Equal(t, "ISSUE-002", report.PatchSuggestions[0].RelatedIssueID)
	assert.Equal(t, "unclear", report.PatchSuggestions[0].NewContent)

	assert.Equal(t, []string{
		"Set up alerts for error rate thresholds",
		"Monitor memory usage and set up garbage collection alerts",
		"Implement structured logging with correlation IDs",
		"Set up log aggregation and alerting system",
	}, report.MonitoringRecommendations)
	assert.Equal(t, []string{
		"Deploy immediate fix for critical issues",
		"Implement automated monitoring and alerting",
		"Review and update error handling patterns",
		"Consider implementing circuit breaker patterns",
	}, report.NextSteps)

	issueCalls := model.callsMatching("debugging expert")
	require.Len(t, issueCalls, 1)
	assert.Contains(t, issueCalls[0].user, "env: prod")
	assert.NotContains(t, issueCalls[0].user, "request served")
}

func TestDebugAgent_SamplesFirstFiftyLogsForPatterns(t *testing.T) {
	model := newScriptedModel("[]")
	agent, err := NewDebugAgent(model)
	require.NoError(t, err)

	logs := make([]LogEntry, 80)
	for i := range logs {
		logs[i] = LogEntry{Timestamp: fmt.Sprintf("t%02d", i), Level: LevelInfo, Source: "svc", Message: "ok"}
	}
	report, err := agent.Analyze(context.Background(), DebugRequest{Logs: logs})
	require.NoError(t, err)

	calls := model.callsMatching("log analysis expert")
	require.Len(t, calls, 1)
	assert.Equal(t, 50, strings.Count(calls[0].user, "[t"))
	assert.Contains(t, calls[0].user, "[t49] INFO - svc: ok")
	assert.NotContains(t, calls[0].user, "[t50]")

	assert.Empty(t, report.Analysis.Issues)
	assert.Empty(t, report.PatchSuggestions)
	assert.Len(t, report.MonitoringRecommendations, 2)
}

func TestDebugAgent_ParsesModelIssues(t *testing.T) {
	model := newScriptedModel("").
		on("debugging expert", `[{"severity":"low","category":"performance","title":"Slow render"}]`).
		on("root cause", `{"description":"Unbatched DOM writes","evidence":["profile"],"fix_suggestion":"Batch writes"}`)
	agent, err := NewDebugAgent(model)
	require.NoError(t, err)

	report, err := agent.Analyze(context.Background(), DebugRequest{})
	require.NoError(t, err)

	require.Len(t, report.Analysis.Issues, 1)
	assert.Equal(t, IssuePerformance, report.Analysis.Issues[0].Category)
	require.Len(t, report.Analysis.RootCauses, 1)
	assert.Equal(t, "Unbatched DOM writes", report.Analysis.RootCauses[0].Description)
	assert.Equal(t, []string{"profile"}, report.Analysis.RootCauses[0].Evidence)
	require.Len(t, report.Analysis.Recommendations, 1)
	assert.Equal(t, "REC-PERF-ISSUE-001", report.Analysis.Recommendations[0].ID)
}

func TestNextSteps_AuditAfterManyIssues(t *testing.T) {
	steps := nextSteps(make([]DebugIssue, 6))
	assert.Equal(t, "Conduct comprehensive system audit", steps[0])
	assert.Len(t, steps, 4)
}

func TestParseDebugFocus(t *testing.T) {
	f, ok := ParseDebugFocus("memory_leaks")
	require.True(t, ok)
	assert.Equal(t, FocusMemoryLeaks, f)
}
