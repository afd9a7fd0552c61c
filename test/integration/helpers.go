// Package integration runs codexd end to end with its real dependencies:
// SQLite history, an embedded NATS server, the Rego admission policy and
// the HTTP API. Agents are stubbed so no model is contacted.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/codexd/internal/events"
	codexhttp "github.com/fyrsmithlabs/codexd/internal/http"
	"github.com/fyrsmithlabs/codexd/internal/logging"
	"github.com/fyrsmithlabs/codexd/internal/metrics"
	"github.com/fyrsmithlabs/codexd/internal/pipeline"
	"github.com/fyrsmithlabs/codexd/internal/policy"
	"github.com/fyrsmithlabs/codexd/internal/service"
	"github.com/fyrsmithlabs/codexd/internal/store"
)

const subjectPrefix = "codexd.test"

// stack is one codexd process wired to real infrastructure.
type stack struct {
	orch     *service.Orchestrator
	history  *store.SQLite
	bus      *events.NATS
	natsURL  string
	registry *prometheus.Registry
	server   *httptest.Server
}

type stackOptions struct {
	overrides map[pipeline.AgentType]pipeline.InvokeFunc
	policy    string
	timeout   time.Duration
}

func newStack(t *testing.T, opts stackOptions) *stack {
	t.Helper()
	ctx := context.Background()

	history, err := store.NewSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err, "Should open SQLite history")
	t.Cleanup(func() { _ = history.Close() })

	srv, err := events.StartEmbedded()
	require.NoError(t, err, "Should start embedded NATS")
	t.Cleanup(srv.Shutdown)

	bus, err := events.Connect(srv.ClientURL(), subjectPrefix, logging.NewNop())
	require.NoError(t, err, "Should connect to NATS")
	t.Cleanup(func() { _ = bus.Close() })

	engine, err := policy.New(ctx, opts.policy)
	require.NoError(t, err, "Should compile policy")

	p, err := pipeline.New(pipeline.NewStubRegistry(opts.overrides))
	require.NoError(t, err)

	if opts.timeout == 0 {
		opts.timeout = 5 * time.Second
	}
	registry := prometheus.NewRegistry()
	orch, err := service.New(service.Options{
		Pipeline: p,
		Store:    history,
		Bus:      bus,
		Policy:   engine,
		Metrics:  metrics.NewPrometheus(registry),
		Logger:   logging.NewNop(),
		Timeout:  opts.timeout,
	})
	require.NoError(t, err)

	api, err := codexhttp.NewServer(codexhttp.Options{
		Orchestrator: orch,
		Gatherer:     registry,
		Checks:       map[string]codexhttp.Check{"history": history.Ping},
		Version:      "integration",
	})
	require.NoError(t, err)
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	return &stack{
		orch:     orch,
		history:  history,
		bus:      bus,
		natsURL:  srv.ClientURL(),
		registry: registry,
		server:   server,
	}
}

// runResponse decodes the parts of an orchestration response the tests
// check.
type runResponse struct {
	RequestID  string                   `json:"request_id"`
	Status     service.Status           `json:"status"`
	Executions []runExecution           `json:"executions"`
	Metadata   service.ResponseMetadata `json:"metadata"`
}

type runExecution struct {
	AgentType pipeline.AgentType `json:"agent_type"`
	Success   bool               `json:"success"`
}

// observer connects a second NATS client, as another process would.
func (s *stack) observer(t *testing.T) *events.NATS {
	t.Helper()
	bus, err := events.Connect(s.natsURL, subjectPrefix, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func (s *stack) postJSON(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(s.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func (s *stack) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(s.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

// collect reads events until the stream ends or a terminal event arrives.
func collect(t *testing.T, ch <-chan events.Event) []events.Event {
	t.Helper()
	var out []events.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
			if ev.Kind.Terminal() {
				return out
			}
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %d", len(out))
			return out
		}
	}
}

func kinds(evs []events.Event) []events.Kind {
	out := make([]events.Kind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}
