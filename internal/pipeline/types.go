package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/fyrsmithlabs/codexd/internal/agents"
)

// AgentType identifies a pipeline stage.
type AgentType string

const (
	AgentSpec          AgentType = "Spec"
	AgentCode          AgentType = "Code"
	AgentTestGenerator AgentType = "TestGenerator"
	AgentReviewer      AgentType = "Reviewer"
	AgentDebug         AgentType = "Debug"
)

// AllAgentTypes lists every stage kind.
func AllAgentTypes() []AgentType {
	return []AgentType{AgentSpec, AgentCode, AgentTestGenerator, AgentReviewer, AgentDebug}
}

// DefaultSequence is used when a request does not name any agents.
func DefaultSequence() []AgentType {
	return []AgentType{AgentSpec, AgentCode, AgentReviewer, AgentTestGenerator}
}

// Valid reports whether t is one of the five stage kinds.
func (t AgentType) Valid() bool {
	switch t {
	case AgentSpec, AgentCode, AgentTestGenerator, AgentReviewer, AgentDebug:
		return true
	}
	return false
}

// ParseAgentType maps a caller-supplied agent name onto a stage kind.
// Matching ignores case and surrounding whitespace.
func ParseAgentType(name string) (AgentType, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "spec":
		return AgentSpec, true
	case "code":
		return AgentCode, true
	case "test", "test_generator", "testgenerator":
		return AgentTestGenerator, true
	case "review", "reviewer":
		return AgentReviewer, true
	case "debug":
		return AgentDebug, true
	}
	return "", false
}

// ResolveSequence turns caller-supplied agent names into a sequence.
// An empty list resolves to nil so the driver substitutes the default
// sequence. Unknown names are dropped; a non-empty list with no recognized
// names resolves to an empty, non-nil sequence.
func ResolveSequence(names []string) []AgentType {
	if len(names) == 0 {
		return nil
	}
	seq := make([]AgentType, 0, len(names))
	for _, name := range names {
		if t, ok := ParseAgentType(name); ok {
			seq = append(seq, t)
		}
	}
	return seq
}

// Request is one orchestration submission.
type Request struct {
	Prompt   string            `json:"prompt"`
	Context  map[string]string `json:"context,omitempty"`
	// Sequence is the ordered list of stages to run. An empty sequence
	// selects DefaultSequence.
	Sequence []AgentType       `json:"agent_sequence,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

func (r *Request) sequence() []AgentType {
	if len(r.Sequence) == 0 {
		return DefaultSequence()
	}
	return r.Sequence
}

func (r *Request) option(key string) string {
	if r.Options == nil {
		return ""
	}
	return strings.TrimSpace(r.Options[key])
}

// AgentInput is the typed input of one step. Exactly the field matching
// Type is set.
type AgentInput struct {
	Type   AgentType
	Spec   *agents.SpecRequest
	Code   *agents.CodeRequest
	Test   *agents.TestRequest
	Review *agents.ReviewRequest
	Debug  *agents.DebugRequest
}

// MarshalJSON writes only the present variant.
func (in AgentInput) MarshalJSON() ([]byte, error) {
	switch in.Type {
	case AgentSpec:
		return json.Marshal(in.Spec)
	case AgentCode:
		return json.Marshal(in.Code)
	case AgentTestGenerator:
		return json.Marshal(in.Test)
	case AgentReviewer:
		return json.Marshal(in.Review)
	case AgentDebug:
		return json.Marshal(in.Debug)
	}
	return []byte("null"), nil
}

// StepFailure is the output recorded for a step whose agent failed.
type StepFailure struct {
	Error string    `json:"error"`
	Agent AgentType `json:"agent"`
}

// AgentOutput is the typed output of one step. Exactly one payload field
// is set: the one matching Type, or Failure.
type AgentOutput struct {
	Type    AgentType
	Spec    *agents.SpecResponse
	Code    *agents.CodeStream
	Test    *agents.TestSuite
	Review  *agents.ReviewReport
	Debug   *agents.DebugReport
	Failure *StepFailure
}

// Failed reports whether the output is a failure sentinel.
func (o *AgentOutput) Failed() bool {
	return o != nil && o.Failure != nil
}

// Requirements returns the requirement labels carried by the output.
// Only specification output carries requirements.
func (o *AgentOutput) Requirements() []string {
	if o == nil || o.Spec == nil {
		return nil
	}
	return o.Spec.RequirementLabels()
}

// Changes returns the code changes carried by the output.
// Only code output carries changes.
func (o *AgentOutput) Changes() []agents.CodeChange {
	if o == nil || o.Code == nil {
		return nil
	}
	return o.Code.Changes
}

func (o *AgentOutput) present() bool {
	if o == nil {
		return false
	}
	if o.Failure != nil {
		return true
	}
	switch o.Type {
	case AgentSpec:
		return o.Spec != nil
	case AgentCode:
		return o.Code != nil
	case AgentTestGenerator:
		return o.Test != nil
	case AgentReviewer:
		return o.Review != nil
	case AgentDebug:
		return o.Debug != nil
	}
	return false
}

// MarshalJSON writes only the present variant.
func (o AgentOutput) MarshalJSON() ([]byte, error) {
	if o.Failure != nil {
		return json.Marshal(o.Failure)
	}
	switch o.Type {
	case AgentSpec:
		return json.Marshal(o.Spec)
	case AgentCode:
		return json.Marshal(o.Code)
	case AgentTestGenerator:
		return json.Marshal(o.Test)
	case AgentReviewer:
		return json.Marshal(o.Review)
	case AgentDebug:
		return json.Marshal(o.Debug)
	}
	return []byte("null"), nil
}

// AgentExecution records one step of a run.
type AgentExecution struct {
	AgentType       AgentType   `json:"agent_type"`
	// Input is nil when the step failed.
	Input           *AgentInput `json:"input"`
	Output          AgentOutput `json:"output"`
	Success         bool        `json:"success"`
	ExecutionTimeMs int64       `json:"execution_time_ms"`
	ErrorMessage    string      `json:"error_message,omitempty"`
}

// Metadata summarizes a run.
type Metadata struct {
	TotalExecutionTimeMs int64    `json:"total_execution_time_ms"`
	AgentsExecuted       int      `json:"agents_executed"`
	SuccessRate          float64  `json:"success_rate"`
	Warnings             []string `json:"warnings"`
}

// Result is the outcome of a run.
type Result struct {
	Executions  []AgentExecution `json:"executions"`
	// FinalResult is the output of the last step that succeeded, or nil
	// when no step succeeded.
	FinalResult *AgentOutput     `json:"result,omitempty"`
	Metadata    Metadata         `json:"metadata"`
}
