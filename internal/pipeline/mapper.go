package pipeline

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/codexd/internal/agents"
)

// Option keys read by the input mapper.
const (
	OptionProjectType          = "project_type"
	OptionExistingRequirements = "existing_requirements"
	OptionExistingFiles        = "existing_files"
	OptionTargetFiles          = "target_files"
	OptionTestFramework        = "test_framework"
	OptionCoverageGoals        = "coverage_goals"
	OptionReviewFocus          = "review_focus"
	OptionLogs                 = "logs"
	OptionCodebaseFiles        = "codebase_files"
	OptionDebugFocus           = "debug_focus"
	OptionRecentChanges        = "recent_changes"
	OptionCodeChanges          = "code_changes"
)

// MapInput builds the input of a step of type t from the request and the
// output of the last successful step. prior is nil when no step has
// succeeded yet. MapInput never fails: options that do not parse are
// left out.
func MapInput(t AgentType, req *Request, prior *AgentOutput) AgentInput {
	if prior != nil && prior.Failed() {
		prior = nil
	}
	switch t {
	case AgentSpec:
		return AgentInput{Type: t, Spec: &agents.SpecRequest{
			Prompt:               req.Prompt,
			Context:              req.Context,
			ProjectType:          req.option(OptionProjectType),
			ExistingRequirements: listOption(req, OptionExistingRequirements),
		}}
	case AgentCode:
		in := &agents.CodeRequest{Prompt: req.Prompt, Context: req.Context}
		if prior != nil {
			in.Requirements = prior.Requirements()
			in.ExistingFiles = jsonOption[[]agents.ExistingFile](req, OptionExistingFiles)
			in.TargetFiles = listOption(req, OptionTargetFiles)
		}
		return AgentInput{Type: t, Code: in}
	case AgentTestGenerator:
		if prior == nil {
			return AgentInput{Type: t, Test: &agents.TestRequest{Prompt: req.Prompt}}
		}
		return AgentInput{Type: t, Test: &agents.TestRequest{
			CodeChanges:   prior.Changes(),
			Requirements:  prior.Requirements(),
			TestFramework: req.option(OptionTestFramework),
			CoverageGoals: listOption(req, OptionCoverageGoals),
		}}
	case AgentReviewer:
		// Reviewing changes supplied by the caller needs no prior step.
		if prior == nil {
			return AgentInput{Type: t, Review: &agents.ReviewRequest{
				Prompt:      req.Prompt,
				CodeChanges: jsonOption[[]agents.CodeChange](req, OptionCodeChanges),
				ReviewFocus: reviewFocusOption(req),
			}}
		}
		return AgentInput{Type: t, Review: &agents.ReviewRequest{
			CodeChanges:  prior.Changes(),
			Requirements: prior.Requirements(),
			ReviewFocus:  reviewFocusOption(req),
		}}
	case AgentDebug:
		return AgentInput{Type: t, Debug: &agents.DebugRequest{
			Logs:          logsOption(req),
			ErrorContext:  req.Context,
			CodebaseFiles: jsonOption[[]agents.CodebaseFile](req, OptionCodebaseFiles),
			RecentChanges: listOption(req, OptionRecentChanges),
			DebugFocus:    debugFocusOption(req),
		}}
	}
	return AgentInput{Type: t}
}

// jsonOption decodes a structured option, returning the zero value when
// the option is absent or malformed.
func jsonOption[T any](req *Request, key string) T {
	var v T
	raw := req.option(key)
	if raw == "" {
		return v
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		var zero T
		return zero
	}
	return v
}

// listOption reads a list-valued option written either as a JSON array of
// strings or as comma-separated values.
func listOption(req *Request, key string) []string {
	raw := req.option(key)
	if raw == "" {
		return nil
	}
	var out []string
	if strings.HasPrefix(raw, "[") && json.Unmarshal([]byte(raw), &out) == nil {
		return compact(out)
	}
	return compact(strings.Split(raw, ","))
}

func compact(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func reviewFocusOption(req *Request) []agents.ReviewFocus {
	var out []agents.ReviewFocus
	for _, name := range listOption(req, OptionReviewFocus) {
		if f, ok := agents.ParseReviewFocus(name); ok {
			out = append(out, f)
		}
	}
	return out
}

func debugFocusOption(req *Request) []agents.DebugFocus {
	var out []agents.DebugFocus
	for _, name := range listOption(req, OptionDebugFocus) {
		if f, ok := agents.ParseDebugFocus(name); ok {
			out = append(out, f)
		}
	}
	return out
}

// logLine matches the rendering of agents.LogEntry.String.
var logLine = regexp.MustCompile(`^\[([^\]]*)\]\s+(\w+)\s+-\s+([^:]+):\s*(.*)$`)

var logLevels = map[string]agents.LogLevel{
	"TRACE":   agents.LevelTrace,
	"DEBUG":   agents.LevelDebug,
	"INFO":    agents.LevelInfo,
	"WARN":    agents.LevelWarn,
	"WARNING": agents.LevelWarn,
	"ERROR":   agents.LevelError,
	"FATAL":   agents.LevelFatal,
}

// logsOption reads the logs option as a JSON array of entries, or else as
// plain text with one entry per line.
func logsOption(req *Request) []agents.LogEntry {
	raw := req.option(OptionLogs)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var entries []agents.LogEntry
		if json.Unmarshal([]byte(raw), &entries) == nil {
			return entries
		}
	}
	var entries []agents.LogEntry
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		entries = append(entries, parseLogLine(line))
	}
	return entries
}

func parseLogLine(line string) agents.LogEntry {
	if m := logLine.FindStringSubmatch(line); m != nil {
		if level, ok := logLevels[strings.ToUpper(m[2])]; ok {
			return agents.LogEntry{Timestamp: m[1], Level: level, Source: strings.TrimSpace(m[3]), Message: m[4]}
		}
	}
	first, rest, _ := strings.Cut(line, " ")
	if level, ok := logLevels[strings.ToUpper(strings.Trim(first, "[]:"))]; ok {
		return agents.LogEntry{Level: level, Message: strings.TrimSpace(rest)}
	}
	return agents.LogEntry{Level: agents.LevelInfo, Message: line}
}
