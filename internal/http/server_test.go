package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/codexd/internal/config"
	"github.com/fyrsmithlabs/codexd/internal/events"
	"github.com/fyrsmithlabs/codexd/internal/pipeline"
	"github.com/fyrsmithlabs/codexd/internal/service"
	"github.com/fyrsmithlabs/codexd/internal/store"
	"github.com/fyrsmithlabs/codexd/internal/workflows"
)

const webhookSecret = "s3cret"

type fakeReviews struct {
	mu     sync.Mutex
	inputs []workflows.ReviewInput
	err    error
}

func (f *fakeReviews) StartReview(ctx context.Context, in workflows.ReviewInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return "", f.err
	}
	return workflows.ReviewWorkflowID(in), nil
}

// replayBus serves a fixed list of events to every subscriber.
type replayBus struct {
	events []events.Event
}

func (b *replayBus) Publish(context.Context, events.Event) error { return nil }

func (b *replayBus) Subscribe(ctx context.Context, id string) (<-chan events.Event, func(), error) {
	ch := make(chan events.Event, len(b.events))
	for _, ev := range b.events {
		ch <- ev
	}
	close(ch)
	return ch, func() {}, nil
}

func (b *replayBus) Close() error { return nil }

func setupTestServer(t *testing.T, mutate func(*Options)) *Server {
	t.Helper()
	p, err := pipeline.New(pipeline.NewStubRegistry(nil))
	require.NoError(t, err)
	st, err := store.NewMemory(16)
	require.NoError(t, err)
	orch, err := service.New(service.Options{
		Pipeline: p,
		Store:    st,
		Bus:      events.NewLocal(),
		Timeout:  time.Second,
	})
	require.NoError(t, err)

	opts := Options{
		Orchestrator: orch,
		Gatherer:     prometheus.NewRegistry(),
		Version:      "1.2.3",
	}
	if mutate != nil {
		mutate(&opts)
	}
	server, err := NewServer(opts)
	require.NoError(t, err)
	return server
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		server := setupTestServer(t, nil)
		assert.Equal(t, "0.0.0.0:3000", server.opts.Config.Addr())
		assert.Equal(t, 30*time.Second, server.opts.Config.RequestTimeout.Duration())
		assert.Equal(t, 15*time.Second, server.opts.KeepAlive)
	})

	t.Run("requires an orchestrator", func(t *testing.T) {
		_, err := NewServer(Options{})
		assert.ErrorContains(t, err, "orchestrator is required")
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t, nil)

	rec := do(t, server, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.NotZero(t, resp.Timestamp)
}

func TestHandleReady(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		server := setupTestServer(t, func(o *Options) {
			o.Checks = map[string]Check{"history": func(context.Context) error { return nil }}
		})
		rec := do(t, server, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp ReadyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, ReadyResponse{Status: "ready", Services: map[string]string{"history": "ok"}}, resp)
	})

	t.Run("failing check reports 503", func(t *testing.T) {
		server := setupTestServer(t, func(o *Options) {
			o.Checks = map[string]Check{
				"history": func(context.Context) error { return nil },
				"events":  func(context.Context) error { return errors.New("nats disconnected") },
			}
		})
		rec := do(t, server, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp ReadyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "not_ready", resp.Status)
		assert.Equal(t, "nats disconnected", resp.Services["events"])
		assert.Equal(t, "ok", resp.Services["history"])
	})
}

func TestHandleOrchestrate(t *testing.T) {
	t.Run("runs the default sequence", func(t *testing.T) {
		server := setupTestServer(t, nil)
		rec := do(t, server, http.MethodPost, "/api/v1/orchestrate", service.OrchestrationRequest{Prompt: "Build a todo API"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Completed", resp["status"])
		assert.NotEmpty(t, resp["request_id"])
		assert.Len(t, resp["executions"], 4)
	})

	t.Run("empty prompt and empty agent list run the default sequence", func(t *testing.T) {
		server := setupTestServer(t, nil)
		rec := do(t, server, http.MethodPost, "/api/v1/orchestrate", map[string]any{"prompt": "", "agent_sequence": []string{}})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Completed", resp["status"])
		assert.Len(t, resp["executions"], 4)
	})

	t.Run("invalid json", func(t *testing.T) {
		server := setupTestServer(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orchestrate", strings.NewReader("invalid json"))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		server.echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleGetRequest(t *testing.T) {
	server := setupTestServer(t, nil)

	rec := do(t, server, http.MethodPost, "/api/v1/orchestrate", service.OrchestrationRequest{
		Prompt:        "Review this",
		AgentSequence: []string{"reviewer"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["request_id"].(string)

	rec = do(t, server, http.MethodGet, "/api/v1/requests/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, mustJSON(t, created), rec.Body.String())

	rec = do(t, server, http.MethodGet, "/api/v1/requests/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestHandleAgents(t *testing.T) {
	server := setupTestServer(t, nil)
	rec := do(t, server, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var agents []service.AgentInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	require.Len(t, agents, 5)
	assert.Equal(t, "spec", agents[0].ID)
	assert.Equal(t, "Specification Agent", agents[0].Name)
}

func TestHandleMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "codexd_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()
	server := setupTestServer(t, func(o *Options) { o.Gatherer = reg })

	for _, path := range []string{"/metrics", "/api/v1/metrics"} {
		rec := do(t, server, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "codexd_test_total 1", path)
	}
}

func TestHandleOrchestrateStream(t *testing.T) {
	server := setupTestServer(t, nil)

	rec := do(t, server, http.MethodPost, "/api/v1/orchestrate/stream", service.OrchestrationRequest{
		Prompt:        "Build it",
		AgentSequence: []string{"spec", "code"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	assert.NotEmpty(t, rec.Header().Get("X-Codexd-Request-Id"))

	kinds := sseKinds(rec.Body.String())
	assert.Equal(t, []string{
		"started",
		"step_started", "step_completed",
		"step_started", "step_completed",
		"completed",
	}, kinds)
}

func sseKinds(body string) []string {
	var kinds []string
	for _, line := range strings.Split(body, "\n") {
		if kind, ok := strings.CutPrefix(line, "event: "); ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func TestHandleRequestEvents(t *testing.T) {
	t.Run("streams until the terminal event", func(t *testing.T) {
		bus := &replayBus{events: []events.Event{
			{RequestID: "run-1", Kind: events.KindStarted},
			{RequestID: "run-1", Kind: events.KindFailed, Error: "request timed out"},
			{RequestID: "run-1", Kind: events.KindStarted},
		}}
		server := setupTestServer(t, func(o *Options) { o.Events = bus })

		rec := do(t, server, http.MethodGet, "/api/v1/requests/run-1/events", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"started", "failed"}, sseKinds(rec.Body.String()))
		assert.Contains(t, rec.Body.String(), `"error":"request timed out"`)
	})

	t.Run("invalid request id", func(t *testing.T) {
		server := setupTestServer(t, nil)
		rec := do(t, server, http.MethodGet, "/api/v1/requests/a.b/events", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func signedWebhook(t *testing.T, event string, payload []byte, secret string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/github/webhook", bytes.NewReader(payload))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-GitHub-Event", event)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	r.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	return r
}

func pullRequestPayload(t *testing.T, action string) []byte {
	t.Helper()
	return []byte(mustJSON(t, map[string]any{
		"action": action,
		"pull_request": map[string]any{
			"number": 12,
			"title":  "Add feature",
			"base":   map[string]string{"ref": "main"},
			"head":   map[string]string{"ref": "feature", "sha": strings.Repeat("a", 40)},
		},
		"repository": map[string]any{
			"name":  "widgets",
			"owner": map[string]string{"login": "octo"},
		},
	}))
}

func TestHandleWebhook(t *testing.T) {
	newServer := func(t *testing.T, reviews *fakeReviews) *Server {
		return setupTestServer(t, func(o *Options) {
			o.Reviews = reviews
			o.WebhookSecret = config.Secret(webhookSecret)
		})
	}
	serve := func(s *Server, r *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		s.echo.ServeHTTP(rec, r)
		return rec
	}

	t.Run("opened pull request starts a review", func(t *testing.T) {
		reviews := &fakeReviews{}
		server := newServer(t, reviews)

		rec := serve(server, signedWebhook(t, "pull_request", pullRequestPayload(t, "opened"), webhookSecret))
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp WebhookResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "started", resp.Status)
		require.Len(t, reviews.inputs, 1)
		assert.Equal(t, 12, reviews.inputs[0].Number)
		assert.Equal(t, "octo/widgets", reviews.inputs[0].Repo.String())
		assert.Equal(t, workflows.ReviewWorkflowID(reviews.inputs[0]), resp.WorkflowID)
	})

	t.Run("bad signature", func(t *testing.T) {
		reviews := &fakeReviews{}
		server := newServer(t, reviews)
		rec := serve(server, signedWebhook(t, "pull_request", pullRequestPayload(t, "opened"), "wrong"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, reviews.inputs)
	})

	t.Run("other events and actions are ignored", func(t *testing.T) {
		reviews := &fakeReviews{}
		server := newServer(t, reviews)

		rec := serve(server, signedWebhook(t, "ping", []byte(`{"zen":"hi"}`), webhookSecret))
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), "ignored")

		rec = serve(server, signedWebhook(t, "pull_request", pullRequestPayload(t, "closed"), webhookSecret))
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Empty(t, reviews.inputs)
	})

	t.Run("start failure", func(t *testing.T) {
		server := newServer(t, &fakeReviews{err: errors.New("temporal unavailable")})
		rec := serve(server, signedWebhook(t, "pull_request", pullRequestPayload(t, "synchronize"), webhookSecret))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("not configured", func(t *testing.T) {
		server := setupTestServer(t, nil)
		rec := serve(server, signedWebhook(t, "pull_request", pullRequestPayload(t, "opened"), webhookSecret))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
