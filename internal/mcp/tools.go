package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codexd/internal/pipeline"
	"github.com/fyrsmithlabs/codexd/internal/service"
	"github.com/fyrsmithlabs/codexd/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type orchestrateInput struct {
	Prompt  string            `json:"prompt" jsonschema:"What the agents should work on"`
	Agents  []string          `json:"agents,omitempty" jsonschema:"Agents to run in order: spec, code, test, reviewer, debug. Defaults to spec, code, reviewer, test"`
	Context map[string]string `json:"context,omitempty" jsonschema:"Free-form context passed to every agent"`
	Options map[string]string `json:"options,omitempty" jsonschema:"Agent options such as test_framework, review_focus or code_changes"`
}

type stepSummary struct {
	Agent      string `json:"agent"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type runOutput struct {
	RequestID      string        `json:"request_id"`
	Status         string        `json:"status"`
	Error          string        `json:"error,omitempty"`
	AgentsExecuted int           `json:"agents_executed"`
	SuccessRate    float64       `json:"success_rate"`
	Warnings       []string      `json:"warnings,omitempty"`
	Steps          []stepSummary `json:"steps"`
	// Result is the JSON of the last successful step's output.
	Result string `json:"result,omitempty"`
}

type listAgentsInput struct{}

type listAgentsOutput struct {
	Agents []service.AgentInfo `json:"agents"`
}

type getRequestInput struct {
	RequestID string `json:"request_id" jsonschema:"ID returned by orchestrate"`
}

type listRequestsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of runs to return (default 20, max 100)"`
}

type requestSummary struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Success   bool   `json:"success"`
	Prompt    string `json:"prompt"`
	CreatedAt string `json:"created_at"`
}

type listRequestsOutput struct {
	Requests []requestSummary `json:"requests"`
}

// storedResponse is the subset of a recorded OrchestrationResponse the
// tools report.
type storedResponse struct {
	RequestID  string          `json:"request_id"`
	Status     service.Status  `json:"status"`
	Result     json.RawMessage `json:"result"`
	Executions []struct {
		AgentType       pipeline.AgentType `json:"agent_type"`
		Success         bool               `json:"success"`
		ExecutionTimeMs int64              `json:"execution_time_ms"`
		ErrorMessage    string             `json:"error_message"`
	} `json:"executions"`
	Metadata struct {
		SuccessRate    float64  `json:"success_rate"`
		Warnings       []string `json:"warnings"`
		AgentsExecuted int      `json:"agents_executed"`
	} `json:"metadata"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "orchestrate",
		Description: "Run a prompt through a sequence of agents and return every step's outcome",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args orchestrateInput) (*mcp.CallToolResult, runOutput, error) {
		var out runOutput
		err := s.instrument(ctx, "orchestrate", func() (err error) {
			out, err = s.orchestrate(ctx, args)
			return err
		})
		if err != nil {
			return nil, runOutput{}, err
		}
		return textResult(runSummaryText(out)), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_agents",
		Description: "List the agents a run can include",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args listAgentsInput) (*mcp.CallToolResult, listAgentsOutput, error) {
		out := listAgentsOutput{Agents: service.Agents()}
		_ = s.instrument(ctx, "list_agents", func() error { return nil })
		names := make([]string, 0, len(out.Agents))
		for _, a := range out.Agents {
			names = append(names, a.ID)
		}
		return textResult("Available agents: " + strings.Join(names, ", ")), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_request",
		Description: "Look up a finished run by request ID",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args getRequestInput) (*mcp.CallToolResult, runOutput, error) {
		var out runOutput
		err := s.instrument(ctx, "get_request", func() (err error) {
			out, err = s.getRequest(ctx, args)
			return err
		})
		if err != nil {
			return nil, runOutput{}, err
		}
		return textResult(runSummaryText(out)), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_requests",
		Description: "List recently finished runs, newest first",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args listRequestsInput) (*mcp.CallToolResult, listRequestsOutput, error) {
		var out listRequestsOutput
		err := s.instrument(ctx, "list_requests", func() (err error) {
			out, err = s.listRequests(ctx, args)
			return err
		})
		if err != nil {
			return nil, listRequestsOutput{}, err
		}
		return textResult(fmt.Sprintf("%d runs", len(out.Requests))), out, nil
	})
}

// instrument records metrics around fn.
func (s *Server) instrument(ctx context.Context, tool string, fn func() error) error {
	start := time.Now()
	s.metrics.IncrementActive(ctx, tool)
	err := fn()
	s.metrics.DecrementActive(ctx, tool)
	s.metrics.RecordInvocation(ctx, tool, time.Since(start), err)
	if err != nil {
		s.logger.Warn(ctx, "mcp tool failed", zap.String("tool", tool), zap.Error(err))
	}
	return err
}

func (s *Server) orchestrate(ctx context.Context, in orchestrateInput) (runOutput, error) {
	resp := s.orch.Process(ctx, service.OrchestrationRequest{
		Prompt:        in.Prompt,
		Context:       in.Context,
		AgentSequence: in.Agents,
		Options:       in.Options,
	})
	s.metrics.RecordRun(ctx, resp.Status.Label(), resp.Metadata.AgentsExecuted)
	payload, err := json.Marshal(resp)
	if err != nil {
		return runOutput{}, fmt.Errorf("encoding response: %w", err)
	}
	return s.summarize(payload)
}

func (s *Server) getRequest(ctx context.Context, in getRequestInput) (runOutput, error) {
	if strings.TrimSpace(in.RequestID) == "" {
		return runOutput{}, fmt.Errorf("%w: request_id is required", errInvalidInput)
	}
	rec, err := s.orch.Get(ctx, in.RequestID)
	if errors.Is(err, store.ErrNotFound) {
		return runOutput{}, fmt.Errorf("request %s %w", in.RequestID, errNotFound)
	}
	if err != nil {
		return runOutput{}, fmt.Errorf("%w: %w", errHistory, err)
	}
	return s.summarize(rec.Response)
}

func (s *Server) listRequests(ctx context.Context, in listRequestsInput) (listRequestsOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	recs, err := s.orch.Recent(ctx, limit)
	if err != nil {
		return listRequestsOutput{}, fmt.Errorf("%w: %w", errHistory, err)
	}
	out := listRequestsOutput{Requests: make([]requestSummary, 0, len(recs))}
	for _, rec := range recs {
		out.Requests = append(out.Requests, requestSummary{
			RequestID: rec.ID,
			Status:    rec.Status,
			Success:   rec.Success,
			Prompt:    s.scrub(rec.Prompt),
			CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

// summarize decodes a recorded response into tool output.
func (s *Server) summarize(payload []byte) (runOutput, error) {
	var resp storedResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return runOutput{}, fmt.Errorf("decoding response: %w", err)
	}
	out := runOutput{
		RequestID:      resp.RequestID,
		Status:         resp.Status.Label(),
		AgentsExecuted: resp.Metadata.AgentsExecuted,
		SuccessRate:    resp.Metadata.SuccessRate,
		Steps:          make([]stepSummary, 0, len(resp.Executions)),
	}
	for _, w := range resp.Metadata.Warnings {
		out.Warnings = append(out.Warnings, s.scrub(w))
	}
	if resp.Status.Failed {
		out.Error = s.scrub(resp.Status.Message)
	}
	for _, ex := range resp.Executions {
		out.Steps = append(out.Steps, stepSummary{
			Agent:      string(ex.AgentType),
			Success:    ex.Success,
			DurationMs: ex.ExecutionTimeMs,
			Error:      s.scrub(ex.ErrorMessage),
		})
	}
	if r := strings.TrimSpace(string(resp.Result)); r != "" && r != "null" {
		out.Result = s.scrub(r)
	}
	return out, nil
}

func runSummaryText(out runOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request %s: %s", out.RequestID, out.Status)
	if out.Error != "" {
		fmt.Fprintf(&b, " (%s)", out.Error)
	}
	for _, step := range out.Steps {
		mark := "ok"
		if !step.Success {
			mark = "failed: " + step.Error
		}
		fmt.Fprintf(&b, "\n- %s %dms %s", step.Agent, step.DurationMs, mark)
	}
	return b.String()
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
