package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/codexd/internal/events"
	"github.com/fyrsmithlabs/codexd/internal/pipeline"
	"github.com/fyrsmithlabs/codexd/internal/service"
)

// TestE2E_OrchestrateOverHTTP validates the request path:
// 1. Submit a prompt over HTTP
// 2. Every default agent runs
// 3. The response is persisted to SQLite
// 4. The stored response is served back unchanged
func TestE2E_OrchestrateOverHTTP(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}
	s := newStack(t, stackOptions{})

	resp, body := s.postJSON(t, "/api/v1/orchestrate", service.OrchestrationRequest{
		Prompt:  "Build a token bucket rate limiter",
		Context: map[string]string{"language": "go"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out runResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, service.Completed, out.Status)
	require.Len(t, out.Executions, 4)
	assert.Equal(t, []pipeline.AgentType{
		pipeline.AgentSpec, pipeline.AgentCode, pipeline.AgentReviewer, pipeline.AgentTestGenerator,
	}, out.Metadata.AgentSequence)
	assert.InDelta(t, 100.0, out.Metadata.SuccessRate, 0.001)

	rec, err := s.history.Get(context.Background(), out.RequestID)
	require.NoError(t, err, "Response should be persisted")
	assert.Equal(t, "Completed", rec.Status)
	assert.True(t, rec.Success)
	assert.Equal(t, "Build a token bucket rate limiter", rec.Prompt)

	resp, stored := s.get(t, "/api/v1/requests/"+out.RequestID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, string(body), string(stored))

	resp, _ = s.get(t, "/readyz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	count, err := testutil.GatherAndCount(s.registry, "codexd_requests_total", "codexd_steps_total")
	require.NoError(t, err)
	assert.Equal(t, 5, count, "One request series and one series per agent")

	resp, exposition := s.get(t, "/api/v1/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(exposition), `codexd_requests_total{status="completed"} 1`)
}

// TestE2E_StepFailureContinues validates that a failing agent is recorded
// and the rest of the sequence still runs.
func TestE2E_StepFailureContinues(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}
	s := newStack(t, stackOptions{
		overrides: map[pipeline.AgentType]pipeline.InvokeFunc{
			pipeline.AgentCode: func(context.Context, pipeline.AgentInput) (pipeline.AgentOutput, error) {
				return pipeline.AgentOutput{}, errors.New("model unavailable")
			},
		},
	})

	out := s.orch.Process(context.Background(), service.OrchestrationRequest{Prompt: "Add retries"})
	assert.Equal(t, service.Completed, out.Status, "Step failures are not run failures")
	require.Len(t, out.Executions, 4)
	assert.True(t, out.Executions[0].Success)
	assert.False(t, out.Executions[1].Success)
	assert.Contains(t, out.Executions[1].ErrorMessage, "model unavailable")
	assert.InDelta(t, 75.0, out.Metadata.SuccessRate, 0.001)
	assert.NotEmpty(t, out.Metadata.Warnings)

	rec, err := s.history.Get(context.Background(), out.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "Completed", rec.Status)
}

// TestE2E_EventsOverNATS validates that another process sees a run's
// progress on the broker in order.
func TestE2E_EventsOverNATS(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}
	s := newStack(t, stackOptions{})
	observer := s.observer(t)

	id := service.NewRequestID()
	ch, cancel, err := observer.Subscribe(context.Background(), id)
	require.NoError(t, err)
	defer cancel()

	out := s.orch.Process(context.Background(),
		service.OrchestrationRequest{Prompt: "Explain the panic", AgentSequence: []string{"debug"}},
		service.WithRequestID(id))
	require.Equal(t, id, out.RequestID)

	evs := collect(t, ch)
	assert.Equal(t, []events.Kind{
		events.KindStarted,
		events.KindStepStarted,
		events.KindStepCompleted,
		events.KindCompleted,
	}, kinds(evs))
	for _, ev := range evs {
		assert.Equal(t, id, ev.RequestID)
	}
	assert.Equal(t, "Debug", evs[1].Agent)
	assert.Equal(t, 100, evs[len(evs)-1].Percentage)
}

// TestE2E_PolicyDenial validates that the admission policy stops a run
// before any agent executes and that the denial is persisted.
func TestE2E_PolicyDenial(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}
	s := newStack(t, stackOptions{policy: `
package codexd.admission

decision := {"allow": false, "reason": "debug runs are disabled"} if {
	"Debug" in input.agents
} else := {"allow": true, "reason": ""}
`})

	resp, body := s.postJSON(t, "/api/v1/orchestrate", service.OrchestrationRequest{
		Prompt:        "Why does this crash?",
		AgentSequence: []string{"Debug"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out runResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.True(t, out.Status.Failed)
	assert.Contains(t, out.Status.Message, "debug runs are disabled")
	assert.Empty(t, out.Executions)

	rec, err := s.history.Get(context.Background(), out.RequestID)
	require.NoError(t, err)
	assert.False(t, rec.Success)

	allowed := s.orch.Process(context.Background(), service.OrchestrationRequest{
		Prompt:        "Write a spec",
		AgentSequence: []string{"Spec"},
	})
	assert.Equal(t, service.Completed, allowed.Status)
}

// TestE2E_StreamOverHTTP validates the SSE endpoint end to end.
func TestE2E_StreamOverHTTP(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}
	s := newStack(t, stackOptions{})

	resp, body := s.postJSON(t, "/api/v1/orchestrate/stream", service.OrchestrationRequest{
		Prompt:        "Generate tests",
		AgentSequence: []string{"TestGenerator"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	id := resp.Header.Get("X-Codexd-Request-Id")
	require.NotEmpty(t, id)
	stream := string(body)
	assert.Contains(t, stream, "event: started")
	assert.Contains(t, stream, "event: completed")
	assert.Less(t, strings.Index(stream, "event: started"), strings.Index(stream, "event: completed"))

	_, err := s.history.Get(context.Background(), id)
	assert.NoError(t, err, "Streamed runs are persisted too")
}
