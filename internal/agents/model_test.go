package agents

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel replies with the first rule whose marker appears in the system prompt.
type scriptedModel struct {
	mu       sync.Mutex
	rules    []scriptRule
	fallback string
	err      error
	calls    []modelCall
}

type scriptRule struct {
	marker string
	reply  string
}

type modelCall struct {
	system string
	user   string
}

func newScriptedModel(fallback string) *scriptedModel {
	return &scriptedModel{fallback: fallback}
}

func (m *scriptedModel) on(marker, reply string) *scriptedModel {
	m.rules = append(m.rules, scriptRule{marker: marker, reply: reply})
	return m
}

func (m *scriptedModel) GenerateWithContext(_ context.Context, system, user string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, modelCall{system: system, user: user})
	if m.err != nil {
		return "", m.err
	}
	for _, r := range m.rules {
		if strings.Contains(system, r.marker) {
			return r.reply, nil
		}
	}
	return m.fallback, nil
}

func (m *scriptedModel) callsMatching(marker string) []modelCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []modelCall
	for _, c := range m.calls {
		if strings.Contains(c.system, marker) {
			out = append(out, c)
		}
	}
	return out
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{name: "bare object", raw: `{"a":1}`, want: `{"a":1}`, ok: true},
		{name: "fenced", raw: "Here you go:\n```json\n[1, 2]\n```\nDone.", want: `[1, 2]`, ok: true},
		{name: "braces inside strings", raw: `prefix {"a":"}{"} suffix`, want: `{"a":"}{"}`, ok: true},
		{name: "skips invalid candidate", raw: `{not json} then {"b":true}`, want: `{"b":true}`, ok: true},
		{name: "no json", raw: "plain text", ok: false},
		{name: "unbalanced", raw: `{"a": [1, 2}`, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSON(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDecodeList_AcceptsWrappedArray(t *testing.T) {
	list, ok := decodeList[Requirement](`{"requirements":[{"id":"R1","title":"Login"}]}`, "requirements")
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "R1", list[0].ID)

	_, ok = decodeList[Requirement](`{"other":[]}`, "requirements")
	assert.False(t, ok)
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, PriorityHigh, canonical(Priority("high"), PriorityLow, PriorityHigh, PriorityLow))
	assert.Equal(t, CategoryNonFunctional, canonical(RequirementCategory("non-functional"), CategoryFunctional,
		CategoryFunctional, CategoryNonFunctional))
	assert.Equal(t, PriorityLow, canonical(Priority("urgent"), PriorityLow, PriorityHigh, PriorityLow))
}

func TestConstructors_RejectNilModel(t *testing.T) {
	_, err := NewSpecAgent(nil)
	assert.ErrorIs(t, err, ErrNilModel)
	_, err = NewCodeAgent(nil)
	assert.ErrorIs(t, err, ErrNilModel)
	_, err = NewTestGeneratorAgent(nil)
	assert.ErrorIs(t, err, ErrNilModel)
	_, err = NewReviewerAgent(nil)
	assert.ErrorIs(t, err, ErrNilModel)
	_, err = NewDebugAgent(nil)
	assert.ErrorIs(t, err, ErrNilModel)
}
