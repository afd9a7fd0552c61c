package agents

import (
	"context"
	"fmt"
	"strings"
)

// LogLevel is the severity of a log entry.
type LogLevel string

const (
	LevelTrace LogLevel = "Trace"
	LevelDebug LogLevel = "Debug"
	LevelInfo  LogLevel = "Info"
	LevelWarn  LogLevel = "Warn"
	LevelError LogLevel = "Error"
	LevelFatal LogLevel = "Fatal"
)

// LogEntry is one line of application logs.
type LogEntry struct {
	Timestamp string            `json:"timestamp"`
	Level     LogLevel          `json:"level"`
	Message   string            `json:"message"`
	Source    string            `json:"source"`
	Context   map[string]string `json:"context,omitempty"`
}

// Normalize canonicalizes the level spelling.
func (e LogEntry) Normalize() LogEntry {
	if strings.EqualFold(string(e.Level), "warning") {
		e.Level = LevelWarn
	}
	e.Level = canonical(e.Level, LevelInfo, LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal)
	return e
}

func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s - %s: %s", e.Timestamp, strings.ToUpper(string(e.Level)), e.Source, e.Message)
}

// CodebaseFile is a source file available for patching.
type CodebaseFile struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language"`
}

// DebugFocus narrows what the debug agent looks for.
type DebugFocus string

const (
	FocusErrorAnalysis         DebugFocus = "ErrorAnalysis"
	FocusPerformanceIssues     DebugFocus = "PerformanceIssues"
	FocusMemoryLeaks           DebugFocus = "MemoryLeaks"
	FocusRaceConditions        DebugFocus = "RaceConditions"
	FocusIntegrationIssues     DebugFocus = "IntegrationIssues"
	FocusConfigurationProblems DebugFocus = "ConfigurationProblems"
)

// ParseDebugFocus maps a name onto a focus value, ignoring case.
func ParseDebugFocus(name string) (DebugFocus, bool) {
	f := canonical(DebugFocus(name), "", FocusErrorAnalysis, FocusPerformanceIssues, FocusMemoryLeaks,
		FocusRaceConditions, FocusIntegrationIssues, FocusConfigurationProblems)
	return f, f != ""
}

// DebugRequest is the input of the debug agent.
type DebugRequest struct {
	Logs          []LogEntry        `json:"logs,omitempty"`
	ErrorContext  map[string]string `json:"error_context,omitempty"`
	CodebaseFiles []CodebaseFile    `json:"codebase_files,omitempty"`
	RecentChanges []string          `json:"recent_changes,omitempty"`
	DebugFocus    []DebugFocus      `json:"debug_focus,omitempty"`
}

// IssueSeverity ranks a debug issue.
type IssueSeverity string

const (
	IssueCritical IssueSeverity = "Critical"
	IssueHigh     IssueSeverity = "High"
	IssueMedium   IssueSeverity = "Medium"
	IssueLow      IssueSeverity = "Low"
)

// IssueCategory classifies a debug issue.
type IssueCategory string

const (
	IssueRuntimeError  IssueCategory = "RuntimeError"
	IssuePerformance   IssueCategory = "Performance"
	IssueMemory        IssueCategory = "Memory"
	IssueConfiguration IssueCategory = "Configuration"
	IssueIntegration   IssueCategory = "Integration"
	IssueLogic         IssueCategory = "Logic"
	IssueSecurity      IssueCategory = "Security"
)

// DebugIssue is a problem identified from the logs.
type DebugIssue struct {
	ID                string        `json:"id"`
	Severity          IssueSeverity `json:"severity"`
	Category          IssueCategory `json:"category"`
	Title             string        `json:"title"`
	Description       string        `json:"description"`
	AffectedFiles     []string      `json:"affected_files"`
	RelatedLogs       []string      `json:"related_logs"`
	ReproductionSteps []string      `json:"reproduction_steps"`
}

// RootCause explains one issue.
type RootCause struct {
	ID            string   `json:"id"`
	Description   string   `json:"description"`
	Confidence    float64  `json:"confidence"`
	Evidence      []string `json:"evidence"`
	FixSuggestion string   `json:"fix_suggestion"`
}

// PatternType is a recurring shape in the logs.
type PatternType string

const (
	PatternErrorSpike         PatternType = "ErrorSpike"
	PatternResourceExhaustion PatternType = "ResourceExhaustion"
	PatternSlowQuery          PatternType = "SlowQuery"
	PatternMemoryGrowth       PatternType = "MemoryGrowth"
	PatternFailedConnection   PatternType = "FailedConnection"
	PatternTimeout            PatternType = "Timeout"
)

// LogPattern is a recurring pattern found in sampled logs.
type LogPattern struct {
	PatternType PatternType   `json:"pattern_type"`
	Description string        `json:"description"`
	Frequency   int           `json:"frequency"`
	Severity    IssueSeverity `json:"severity"`
	Examples    []string      `json:"examples"`
}

// RecommendationPriority orders debug recommendations.
type RecommendationPriority string

const (
	PriorityImmediate RecommendationPriority = "Immediate"
	RecommendHigh     RecommendationPriority = "High"
	RecommendMedium   RecommendationPriority = "Medium"
	RecommendLow      RecommendationPriority = "Low"
)

// DebugRecommendation is an actionable follow-up.
type DebugRecommendation struct {
	ID              string                 `json:"id"`
	Priority        RecommendationPriority `json:"priority"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description"`
	ActionItems     []string               `json:"action_items"`
	EstimatedEffort string                 `json:"estimated_effort"`
}

// PatchSuggestion is a candidate fix for one file.
type PatchSuggestion struct {
	FilePath       string  `json:"file_path"`
	OldContent     string  `json:"old_content"`
	NewContent     string  `json:"new_content"`
	Explanation    string  `json:"explanation"`
	Confidence     float64 `json:"confidence"`
	RelatedIssueID string  `json:"related_issue_id"`
}

// DebugAnalysis groups the diagnostic findings.
type DebugAnalysis struct {
	Issues          []DebugIssue          `json:"issues"`
	RootCauses      []RootCause           `json:"root_causes"`
	Patterns        []LogPattern          `json:"patterns"`
	Recommendations []DebugRecommendation `json:"recommendations"`
	Confidence      float64               `json:"confidence"`
}

// DebugReport is the output of the debug agent.
type DebugReport struct {
	Analysis                  DebugAnalysis     `json:"analysis"`
	PatchSuggestions          []PatchSuggestion `json:"patch_suggestions"`
	MonitoringRecommendations []string          `json:"monitoring_recommendations"`
	NextSteps                 []string          `json:"next_steps"`
}

const (
	// patternSampleSize caps how many log entries go into pattern analysis.
	patternSampleSize = 50

	analysisConfidence  = 0.85
	rootCauseConfidence = 0.75
)

const (
	logPatternsPrompt = `You are a log analysis expert. Analyze these logs for patterns:
1. Error frequency and spikes
2. Resource exhaustion patterns
3. Performance degradation indicators
4. Connection and timeout patterns
5. Memory usage patterns

Return a JSON array of patterns with pattern_type (ErrorSpike,
ResourceExhaustion, SlowQuery, MemoryGrowth, FailedConnection, Timeout),
description, frequency, severity and examples.`

	issuesPrompt = `You are a debugging expert. Given these logs and context, identify specific issues:
1. Runtime errors and exceptions
2. Performance bottlenecks
3. Memory leaks or excessive usage
4. Configuration problems
5. Integration failures
6. Logic errors

Return a JSON array of issues with severity, category, title, description,
affected_files, related_logs and reproduction_steps.`

	rootCausePrompt = `Analyze this issue to determine the root cause. Consider code logic, configuration, environment, and dependencies.

Return a JSON object with description, evidence and fix_suggestion.`

	patchPrompt = `You are an expert developer generating code fixes. Given the issue and root cause, generate a targeted patch that:
1. Fixes the specific problem
2. Maintains existing functionality
3. Follows the codebase patterns
4. Includes proper error handling
5. Is minimal and focused

Return the complete file content with the fix applied.`
)

// DebugAgent analyzes logs and suggests fixes.
type DebugAgent struct {
	model ModelClient
}

// NewDebugAgent creates a debug agent.
func NewDebugAgent(model ModelClient) (*DebugAgent, error) {
	if model == nil {
		return nil, ErrNilModel
	}
	return &DebugAgent{model: model}, nil
}

// Analyze turns logs and context into issues, root causes and patches.
func (a *DebugAgent) Analyze(ctx context.Context, req DebugRequest) (*DebugReport, error) {
	logs := make([]LogEntry, len(req.Logs))
	for i, l := range req.Logs {
		logs[i] = l.Normalize()
	}

	patterns, err := a.patterns(ctx, logs)
	if err != nil {
		return nil, err
	}
	issues, err := a.issues(ctx, logs, req)
	if err != nil {
		return nil, err
	}
	causes, err := a.rootCauses(ctx, issues)
	if err != nil {
		return nil, err
	}
	patches, err := a.patches(ctx, issues, causes, req.CodebaseFiles)
	if err != nil {
		return nil, err
	}

	return &DebugReport{
		Analysis: DebugAnalysis{
			Issues:          issues,
			RootCauses:      causes,
			Patterns:        patterns,
			Recommendations: debugRecommendations(issues),
			Confidence:      analysisConfidence,
		},
		PatchSuggestions:          patches,
		MonitoringRecommendations: monitoringRecommendations(patterns),
		NextSteps:                 nextSteps(issues),
	}, nil
}

func (a *DebugAgent) patterns(ctx context.Context, logs []LogEntry) ([]LogPattern, error) {
	sample := logs
	if len(sample) > patternSampleSize {
		sample = sample[:patternSampleSize]
	}
	var text strings.Builder
	for _, l := range sample {
		text.WriteString(l.String())
		text.WriteString("\n")
	}

	reply, err := a.model.GenerateWithContext(ctx, logPatternsPrompt, "Analyze these logs for patterns:\n\n"+text.String())
	if err != nil {
		return nil, fmt.Errorf("analyzing log patterns: %w", err)
	}

	patterns, ok := decodeList[LogPattern](reply, "patterns")
	if !ok {
		return scanPatterns(sample), nil
	}
	valid := patterns[:0]
	for _, p := range patterns {
		p.PatternType = canonical(p.PatternType, "", PatternErrorSpike, PatternResourceExhaustion,
			PatternSlowQuery, PatternMemoryGrowth, PatternFailedConnection, PatternTimeout)
		if p.PatternType == "" {
			continue
		}
		p.Severity = canonical(p.Severity, IssueMedium, IssueCritical, IssueHigh, IssueMedium, IssueLow)
		if p.Examples == nil {
			p.Examples = []string{}
		}
		valid = append(valid, p)
	}
	return valid, nil
}

func (a *DebugAgent) issues(ctx context.Context, logs []LogEntry, req DebugRequest) ([]DebugIssue, error) {
	var errorLogs []LogEntry
	var text strings.Builder
	for _, l := range logs {
		if l.Level == LevelError || l.Level == LevelFatal {
			errorLogs = append(errorLogs, l)
			text.WriteString(l.String())
			text.WriteString("\n")
		}
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Identify issues from these error logs:\n\n%s", text.String())
	if c := formatContext(req.ErrorContext); c != "" {
		fmt.Fprintf(&user, "\nAdditional context:\n%s", c)
	}
	if len(req.RecentChanges) > 0 {
		fmt.Fprintf(&user, "\nRecent changes:\n- %s\n", strings.Join(req.RecentChanges, "\n- "))
	}
	if len(req.DebugFocus) > 0 {
		focus := make([]string, len(req.DebugFocus))
		for i, f := range req.DebugFocus {
			focus[i] = string(f)
		}
		fmt.Fprintf(&user, "\nFocus: %s\n", strings.Join(focus, ", "))
	}

	reply, err := a.model.GenerateWithContext(ctx, issuesPrompt, user.String())
	if err != nil {
		return nil, fmt.Errorf("identifying issues: %w", err)
	}

	issues, ok := decodeList[DebugIssue](reply, "issues")
	if !ok {
		issues = issuesFromLogs(errorLogs)
	}
	for i := range issues {
		is := &issues[i]
		is.ID = fmt.Sprintf("ISSUE-%03d", i+1)
		is.Severity = canonical(is.Severity, IssueMedium, IssueCritical, IssueHigh, IssueMedium, IssueLow)
		is.Category = canonical(is.Category, IssueRuntimeError, IssueRuntimeError, IssuePerformance,
			IssueMemory, IssueConfiguration, IssueIntegration, IssueLogic, IssueSecurity)
		if is.AffectedFiles == nil {
			is.AffectedFiles = []string{}
		}
		if is.RelatedLogs == nil {
			is.RelatedLogs = []string{}
		}
		if is.ReproductionSteps == nil {
			is.ReproductionSteps = []string{}
		}
	}
	return issues, nil
}

func (a *DebugAgent) rootCauses(ctx context.Context, issues []DebugIssue) ([]RootCause, error) {
	causes := make([]RootCause, 0, len(issues))
	for _, is := range issues {
		user := fmt.Sprintf("Determine root cause for issue: %s - %s", is.Title, is.Description)
		reply, err := a.model.GenerateWithContext(ctx, rootCausePrompt, user)
		if err != nil {
			return nil, fmt.Errorf("analyzing root cause of %s: %w", is.ID, err)
		}

		var rc RootCause
		if !decodeReply(reply, &rc) || rc.Description == "" {
			rc = RootCause{
				Description:   "Root cause analysis for " + is.Title,
				FixSuggestion: truncate(reply, 500),
			}
		}
		rc.ID = "RC-" + is.ID
		rc.Confidence = rootCauseConfidence
		if len(rc.Evidence) == 0 {
			rc.Evidence = append([]string{"Log pattern analysis"}, is.RelatedLogs...)
		}
		causes = append(causes, rc)
	}
	return causes, nil
}

func (a *DebugAgent) patches(ctx context.Context, issues []DebugIssue, causes []RootCause, files []CodebaseFile) ([]PatchSuggestion, error) {
	patches := []PatchSuggestion{}
	for i, is := range issues {
		rc := causes[i]
		for _, f := range files {
			if !containsString(is.AffectedFiles, f.Path) {
				continue
			}
			user := fmt.Sprintf("Generate fix for issue: %s in file: %s\n\nRoot cause: %s\n\nCurrent file content:\n%s",
				is.Title, f.Path, rc.Description, f.Content)
			reply, err := a.model.GenerateWithContext(ctx, patchPrompt, user)
			if err != nil {
				return nil, fmt.Errorf("generating patch for %s: %w", f.Path, err)
			}
			fixed := stripFence(reply)
			if fixed == "" || fixed == strings.TrimSpace(f.Content) {
				continue
			}
			patches = append(patches, PatchSuggestion{
				FilePath:       f.Path,
				OldContent:     f.Content,
				NewContent:     fixed,
				Explanation:    fmt.Sprintf("Fix for %s: %s", is.ID, is.Title),
				Confidence:     rc.Confidence,
				RelatedIssueID: is.ID,
			})
		}
	}
	return patches, nil
}

// patternRule recognizes a pattern type by message keywords.
type patternRule struct {
	kind        PatternType
	keywords    []string
	description string
	severity    IssueSeverity
}

var patternRules = []patternRule{
	{PatternTimeout, []string{"timeout", "timed out", "deadline exceeded"}, "Operations timing out", IssueHigh},
	{PatternFailedConnection, []string{"connection refused", "connection reset", "failed to connect", "unreachable"}, "Connections failing", IssueHigh},
	{PatternMemoryGrowth, []string{"memory", "heap", "oom"}, "Memory usage growing", IssueMedium},
	{PatternSlowQuery, []string{"slow query", "query took", "slow sql"}, "Slow database queries", IssueMedium},
	{PatternResourceExhaustion, []string{"exhausted", "too many open files", "pool", "no space left"}, "Resources exhausted", IssueHigh},
}

// errorSpikeThreshold is the number of error entries that counts as a spike.
const errorSpikeThreshold = 3

func scanPatterns(logs []LogEntry) []LogPattern {
	patterns := []LogPattern{}
	errorsSeen := 0
	var errorExamples []string
	for _, l := range logs {
		if l.Level == LevelError || l.Level == LevelFatal {
			errorsSeen++
			if len(errorExamples) < 3 {
				errorExamples = append(errorExamples, l.String())
			}
		}
	}
	if errorsSeen >= errorSpikeThreshold {
		patterns = append(patterns, LogPattern{
			PatternType: PatternErrorSpike,
			Description: fmt.Sprintf("%d error entries in %d sampled logs", errorsSeen, len(logs)),
			Frequency:   errorsSeen,
			Severity:    IssueHigh,
			Examples:    errorExamples,
		})
	}

	for _, rule := range patternRules {
		count := 0
		var examples []string
		for _, l := range logs {
			if containsAny(l.Message, rule.keywords...) {
				count++
				if len(examples) < 3 {
					examples = append(examples, l.String())
				}
			}
		}
		if count == 0 {
			continue
		}
		patterns = append(patterns, LogPattern{
			PatternType: rule.kind,
			Description: rule.description,
			Frequency:   count,
			Severity:    rule.severity,
			Examples:    examples,
		})
	}
	return patterns
}

// issuesFromLogs groups error entries by source and message.
func issuesFromLogs(errorLogs []LogEntry) []DebugIssue {
	var issues []DebugIssue
	index := map[string]int{}
	for _, l := range errorLogs {
		key := l.Source + "\x00" + l.Message
		if i, ok := index[key]; ok {
			issues[i].RelatedLogs = append(issues[i].RelatedLogs, l.String())
			if l.Level == LevelFatal {
				issues[i].Severity = IssueCritical
			}
			continue
		}
		severity := IssueHigh
		if l.Level == LevelFatal {
			severity = IssueCritical
		}
		var files []string
		if f := l.Context["file"]; f != "" {
			files = append(files, f)
		}
		title := truncate(l.Message, 80)
		if l.Source != "" {
			title = fmt.Sprintf("%s: %s", l.Source, title)
		}
		index[key] = len(issues)
		issues = append(issues, DebugIssue{
			Severity:      severity,
			Category:      categorize(l.Message),
			Title:         title,
			Description:   l.Message,
			AffectedFiles: files,
			RelatedLogs:   []string{l.String()},
			ReproductionSteps: []string{
				fmt.Sprintf("Exercise the %s component", pick(l.Source, "affected")),
				"Observe: " + truncate(l.Message, 120),
			},
		})
	}
	return issues
}

func categorize(msg string) IssueCategory {
	switch {
	case containsAny(msg, "memory", "heap", "oom"):
		return IssueMemory
	case containsAny(msg, "slow", "latency", "took"):
		return IssuePerformance
	case containsAny(msg, "config", "missing env", "not set", "invalid setting"):
		return IssueConfiguration
	case containsAny(msg, "connection", "timeout", "unreachable", "upstream", "http"):
		return IssueIntegration
	case containsAny(msg, "unauthorized", "forbidden", "permission", "token"):
		return IssueSecurity
	default:
		return IssueRuntimeError
	}
}

func debugRecommendations(issues []DebugIssue) []DebugRecommendation {
	recs := []DebugRecommendation{}
	critical := 0
	for _, is := range issues {
		if is.Severity == IssueCritical {
			critical++
		}
	}
	if critical > 0 {
		recs = append(recs, DebugRecommendation{
			ID:              "REC-001",
			Priority:        PriorityImmediate,
			Title:           "Fix critical issues immediately",
			Description:     fmt.Sprintf("%d critical issues require immediate attention", critical),
			ActionItems:     []string{"Deploy hotfix for critical issues", "Implement monitoring alerts"},
			EstimatedEffort: "2-4 hours",
		})
	}
	for _, is := range issues {
		switch is.Category {
		case IssuePerformance:
			recs = append(recs, DebugRecommendation{
				ID:              "REC-PERF-" + is.ID,
				Priority:        RecommendHigh,
				Title:           "Optimize " + is.Title,
				Description:     is.Description,
				ActionItems:     []string{"Profile performance bottlenecks", "Implement caching where appropriate"},
				EstimatedEffort: "4-8 hours",
			})
		case IssueMemory:
			recs = append(recs, DebugRecommendation{
				ID:              "REC-MEM-" + is.ID,
				Priority:        RecommendHigh,
				Title:           "Fix " + is.Title,
				Description:     is.Description,
				ActionItems:     []string{"Review memory allocation patterns", "Implement proper cleanup"},
				EstimatedEffort: "2-4 hours",
			})
		}
	}
	return recs
}

func monitoringRecommendations(patterns []LogPattern) []string {
	recs := []string{}
	for _, p := range patterns {
		switch p.PatternType {
		case PatternErrorSpike:
			recs = append(recs, "Set up alerts for error rate thresholds")
		case PatternMemoryGrowth:
			recs = append(recs, "Monitor memory usage and set up garbage collection alerts")
		case PatternSlowQuery:
			recs = append(recs, "Monitor database query performance")
		}
	}
	return append(recs,
		"Implement structured logging with correlation IDs",
		"Set up log aggregation and alerting system",
	)
}

func nextSteps(issues []DebugIssue) []string {
	steps := []string{}
	for _, is := range issues {
		if is.Severity == IssueCritical {
			steps = append(steps, "Deploy immediate fix for critical issues")
			break
		}
	}
	if len(issues) > 5 {
		steps = append(steps, "Conduct comprehensive system audit")
	}
	return append(steps,
		"Implement automated monitoring and alerting",
		"Review and update error handling patterns",
		"Consider implementing circuit breaker patterns",
	)
}

// stripFence removes a surrounding markdown code fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.Index(s, "\n"); nl >= 0 {
		s = s[nl+1:]
	} else {
		return ""
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
