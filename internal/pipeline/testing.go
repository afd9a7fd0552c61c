package pipeline

import (
	"context"

	"github.com/fyrsmithlabs/codexd/internal/agents"
)

// InvokeFunc is the behaviour of a StubAgent.
type InvokeFunc func(ctx context.Context, input AgentInput) (AgentOutput, error)

// StubAgent is an Agent whose behaviour is supplied by the caller. It is
// intended for tests of packages that drive the pipeline.
type StubAgent struct {
	Kind AgentType
	Fn   InvokeFunc
}

func (s *StubAgent) Type() AgentType { return s.Kind }

func (s *StubAgent) Invoke(ctx context.Context, input AgentInput) (AgentOutput, error) {
	if s.Fn == nil {
		return CannedOutput(s.Kind), nil
	}
	return s.Fn(ctx, input)
}

// NewStubRegistry returns a registry of StubAgents. Kinds without an entry
// in overrides return CannedOutput.
func NewStubRegistry(overrides map[AgentType]InvokeFunc) *Registry {
	list := make([]Agent, 0, len(AllAgentTypes()))
	for _, t := range AllAgentTypes() {
		list = append(list, &StubAgent{Kind: t, Fn: overrides[t]})
	}
	reg, err := NewRegistry(list...)
	if err != nil {
		// Unreachable: the list covers every kind once.
		panic(err)
	}
	return reg
}

// CannedOutput returns a small valid output for t.
func CannedOutput(t AgentType) AgentOutput {
	switch t {
	case AgentSpec:
		return AgentOutput{Type: t, Spec: &agents.SpecResponse{
			Requirements: []agents.Requirement{{ID: "REQ-001", Title: "Stub requirement"}},
		}}
	case AgentCode:
		return AgentOutput{Type: t, Code: &agents.CodeStream{
			Changes: []agents.CodeChange{{FilePath: "main.go", ChangeType: agents.ChangeCreate, NewContent: "package main\n"}},
		}}
	case AgentTestGenerator:
		return AgentOutput{Type: t, Test: &agents.TestSuite{}}
	case AgentReviewer:
		return AgentOutput{Type: t, Review: &agents.ReviewReport{OverallApproval: agents.Approved}}
	case AgentDebug:
		return AgentOutput{Type: t, Debug: &agents.DebugReport{}}
	}
	return AgentOutput{Type: t}
}
