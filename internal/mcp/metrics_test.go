package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/codexd/internal/logging"
)

func newTestMetrics(t *testing.T) (*Metrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := &Metrics{
		meter:  mp.Meter(instrumentationName),
		logger: logging.NewNop(),
	}
	m.init()
	return m, reader
}

func sumOf(t *testing.T, reader *metric.ManualReader, name string) (int64, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != name {
				continue
			}
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				return total, true
			case metricdata.Histogram[float64]:
				var total uint64
				for _, dp := range data.DataPoints {
					total += dp.Count
				}
				return int64(total), true
			case metricdata.Histogram[int64]:
				var total uint64
				for _, dp := range data.DataPoints {
					total += dp.Count
				}
				return int64(total), true
			}
		}
	}
	return 0, false
}

func TestMetrics_RecordInvocation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInvocation(ctx, "orchestrate", 100*time.Millisecond, nil)
	m.RecordInvocation(ctx, "orchestrate", 50*time.Millisecond, fmt.Errorf("%w: request_id is required", errInvalidInput))

	invocations, ok := sumOf(t, reader, "codexd.mcp.tool.invocations_total")
	require.True(t, ok, "invocations counter not found")
	assert.Equal(t, int64(2), invocations)

	durations, ok := sumOf(t, reader, "codexd.mcp.tool.duration_seconds")
	require.True(t, ok, "duration histogram not found")
	assert.Equal(t, int64(2), durations)

	errs, ok := sumOf(t, reader, "codexd.mcp.tool.errors_total")
	require.True(t, ok, "errors counter not found")
	assert.Equal(t, int64(1), errs)
}

func TestMetrics_ActiveRequests(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.IncrementActive(ctx, "orchestrate")
	m.IncrementActive(ctx, "orchestrate")
	m.DecrementActive(ctx, "orchestrate")

	active, ok := sumOf(t, reader, "codexd.mcp.tool.active_requests")
	require.True(t, ok, "active_requests metric not found")
	assert.Equal(t, int64(1), active)
}

func TestMetrics_RecordRun(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRun(ctx, "Completed", 4)
	m.RecordRun(ctx, "Failed", 0)

	runs, ok := sumOf(t, reader, "codexd.mcp.runs_total")
	require.True(t, ok, "runs counter not found")
	assert.Equal(t, int64(2), runs)

	agents, ok := sumOf(t, reader, "codexd.mcp.run_agents")
	require.True(t, ok, "run agents histogram not found")
	assert.Equal(t, int64(2), agents)
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, ""},
		{"invalid input", fmt.Errorf("%w: request_id is required", errInvalidInput), "validation_error"},
		{"not found", fmt.Errorf("request abc %w", errNotFound), "not_found"},
		{"deadline", fmt.Errorf("running pipeline: %w", context.DeadlineExceeded), "timeout"},
		{"canceled", context.Canceled, "canceled"},
		{"history", fmt.Errorf("%w: %w", errHistory, errors.New("disk I/O")), "storage_error"},
		{"unclassified", errors.New("something went wrong"), "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, categorizeError(tt.err))
		})
	}
}
