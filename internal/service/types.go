package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/codexd/internal/pipeline"
)

// OrchestrationRequest is a caller's submission.
type OrchestrationRequest struct {
	Prompt  string            `json:"prompt"`
	Context map[string]string `json:"context,omitempty"`
	// AgentSequence names the agents to run, case-insensitively. An empty
	// list selects the default sequence; unknown names are dropped.
	AgentSequence []string          `json:"agent_sequence,omitempty"`
	Options       map[string]string `json:"options,omitempty"`
}

// Status is "Completed" or {"Failed": message} on the wire.
type Status struct {
	Failed  bool
	Message string
}

// Completed is the status of a run that reached the end of its sequence.
var Completed = Status{}

// Failed returns a run-level failure status.
func Failed(msg string) Status {
	return Status{Failed: true, Message: msg}
}

func (s Status) String() string {
	if s.Failed {
		return "Failed: " + s.Message
	}
	return "Completed"
}

// Label is the status name without the message.
func (s Status) Label() string {
	if s.Failed {
		return "Failed"
	}
	return "Completed"
}

func (s Status) MarshalJSON() ([]byte, error) {
	if !s.Failed {
		return json.Marshal("Completed")
	}
	return json.Marshal(map[string]string{"Failed": s.Message})
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err == nil {
		if label != "Completed" {
			return fmt.Errorf("unknown status %q", label)
		}
		*s = Completed
		return nil
	}
	var failed map[string]string
	if err := json.Unmarshal(data, &failed); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}
	msg, ok := failed["Failed"]
	if !ok {
		return errors.New("status object must have a Failed key")
	}
	*s = Failed(msg)
	return nil
}

// ResponseMetadata describes a finished run.
type ResponseMetadata struct {
	StartTime      time.Time            `json:"start_time"`
	EndTime        time.Time            `json:"end_time"`
	DurationMs     int64                `json:"duration_ms"`
	AgentSequence  []pipeline.AgentType `json:"agent_sequence"`
	Success        bool                 `json:"success"`
	Error          string               `json:"error,omitempty"`
	SuccessRate    float64              `json:"success_rate"`
	Warnings       []string             `json:"warnings"`
	AgentsExecuted int                  `json:"agents_executed"`
}

// OrchestrationResponse is returned for every submission, including runs
// that failed before any step executed.
type OrchestrationResponse struct {
	RequestID  string                    `json:"request_id"`
	Status     Status                    `json:"status"`
	Result     *pipeline.AgentOutput     `json:"result"`
	Executions []pipeline.AgentExecution `json:"executions"`
	Metadata   ResponseMetadata          `json:"metadata"`
}

// AgentInfo describes an available agent.
type AgentInfo struct {
	ID          string             `json:"id"`
	Type        pipeline.AgentType `json:"type"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
}

// Agents lists the agents a request can name.
func Agents() []AgentInfo {
	return []AgentInfo{
		{ID: "spec", Type: pipeline.AgentSpec, Name: "Specification Agent", Description: "Generates requirements and specifications"},
		{ID: "code", Type: pipeline.AgentCode, Name: "Code Agent", Description: "Generates and modifies code"},
		{ID: "test", Type: pipeline.AgentTestGenerator, Name: "Test Generator", Description: "Generates test cases"},
		{ID: "reviewer", Type: pipeline.AgentReviewer, Name: "Code Reviewer", Description: "Reviews code and provides feedback"},
		{ID: "debug", Type: pipeline.AgentDebug, Name: "Debug Agent", Description: "Helps debug issues in code"},
	}
}
