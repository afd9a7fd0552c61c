package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/codexd/internal/agents"
)

// MockAgent is a mock implementation of Agent
type MockAgent struct {
	mock.Mock
	agentType AgentType
}

func NewMockAgent(t AgentType) *MockAgent {
	return &MockAgent{agentType: t}
}

func (m *MockAgent) Type() AgentType {
	return m.agentType
}

func (m *MockAgent) Invoke(ctx context.Context, input AgentInput) (AgentOutput, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(AgentOutput), args.Error(1)
}

// mockSet holds one mock per stage kind.
type mockSet map[AgentType]*MockAgent

func newMockRegistry(t *testing.T) (*Registry, mockSet) {
	t.Helper()
	set := mockSet{}
	var list []Agent
	for _, at := range AllAgentTypes() {
		m := NewMockAgent(at)
		set[at] = m
		list = append(list, m)
	}
	reg, err := NewRegistry(list...)
	require.NoError(t, err)
	return reg, set
}

func (s mockSet) assertExpectations(t *testing.T) {
	for _, m := range s {
		m.AssertExpectations(t)
	}
}

func specOutput(ids ...string) AgentOutput {
	resp := &agents.SpecResponse{}
	for _, id := range ids {
		resp.Requirements = append(resp.Requirements, agents.Requirement{ID: id, Title: "Title " + id})
	}
	return AgentOutput{Type: AgentSpec, Spec: resp}
}

func codeOutput(paths ...string) AgentOutput {
	stream := &agents.CodeStream{}
	for _, p := range paths {
		stream.Changes = append(stream.Changes, agents.CodeChange{FilePath: p, NewContent: "x", ChangeType: agents.ChangeCreate})
	}
	return AgentOutput{Type: AgentCode, Code: stream}
}

func reviewOutput(status agents.ApprovalStatus) AgentOutput {
	return AgentOutput{Type: AgentReviewer, Review: &agents.ReviewReport{OverallApproval: status}}
}

func testOutput(n int) AgentOutput {
	return AgentOutput{Type: AgentTestGenerator, Test: &agents.TestSuite{Tests: make([]agents.GeneratedTest, n)}}
}

func debugOutput() AgentOutput {
	return AgentOutput{Type: AgentDebug, Debug: &agents.DebugReport{}}
}
