package pipeline

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/codexd/internal/agents"
)

func wrongInput(want AgentType, in AgentInput) error {
	return fmt.Errorf("%s agent received %s input", want, in.Type)
}

type specAdapter struct{ agent *agents.SpecAgent }

func (a *specAdapter) Type() AgentType { return AgentSpec }

func (a *specAdapter) Invoke(ctx context.Context, in AgentInput) (AgentOutput, error) {
	if in.Spec == nil {
		return AgentOutput{}, wrongInput(AgentSpec, in)
	}
	out, err := a.agent.Generate(ctx, *in.Spec)
	if err != nil {
		return AgentOutput{}, err
	}
	return AgentOutput{Type: AgentSpec, Spec: out}, nil
}

type codeAdapter struct{ agent *agents.CodeAgent }

func (a *codeAdapter) Type() AgentType { return AgentCode }

func (a *codeAdapter) Invoke(ctx context.Context, in AgentInput) (AgentOutput, error) {
	if in.Code == nil {
		return AgentOutput{}, wrongInput(AgentCode, in)
	}
	out, err := a.agent.Generate(ctx, *in.Code)
	if err != nil {
		return AgentOutput{}, err
	}
	return AgentOutput{Type: AgentCode, Code: out}, nil
}

type testAdapter struct{ agent *agents.TestGeneratorAgent }

func (a *testAdapter) Type() AgentType { return AgentTestGenerator }

func (a *testAdapter) Invoke(ctx context.Context, in AgentInput) (AgentOutput, error) {
	if in.Test == nil {
		return AgentOutput{}, wrongInput(AgentTestGenerator, in)
	}
	out, err := a.agent.Generate(ctx, *in.Test)
	if err != nil {
		return AgentOutput{}, err
	}
	return AgentOutput{Type: AgentTestGenerator, Test: out}, nil
}

type reviewAdapter struct{ agent *agents.ReviewerAgent }

func (a *reviewAdapter) Type() AgentType { return AgentReviewer }

func (a *reviewAdapter) Invoke(ctx context.Context, in AgentInput) (AgentOutput, error) {
	if in.Review == nil {
		return AgentOutput{}, wrongInput(AgentReviewer, in)
	}
	out, err := a.agent.Review(ctx, *in.Review)
	if err != nil {
		return AgentOutput{}, err
	}
	return AgentOutput{Type: AgentReviewer, Review: out}, nil
}

type debugAdapter struct{ agent *agents.DebugAgent }

func (a *debugAdapter) Type() AgentType { return AgentDebug }

func (a *debugAdapter) Invoke(ctx context.Context, in AgentInput) (AgentOutput, error) {
	if in.Debug == nil {
		return AgentOutput{}, wrongInput(AgentDebug, in)
	}
	out, err := a.agent.Analyze(ctx, *in.Debug)
	if err != nil {
		return AgentOutput{}, err
	}
	return AgentOutput{Type: AgentDebug, Debug: out}, nil
}
