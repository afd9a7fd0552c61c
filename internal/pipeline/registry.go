package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/codexd/internal/agents"
)

// Agent is a pipeline stage.
type Agent interface {
	// Type returns the stage kind the agent serves.
	Type() AgentType

	// Invoke runs the agent on input and returns its typed output.
	Invoke(ctx context.Context, input AgentInput) (AgentOutput, error)
}

// Registry maps every stage kind to its agent. It is immutable after
// construction.
type Registry struct {
	agents map[AgentType]Agent
}

// NewRegistry builds a registry that must cover all five stage kinds
// exactly once.
func NewRegistry(list ...Agent) (*Registry, error) {
	r := &Registry{agents: make(map[AgentType]Agent, len(list))}
	for _, a := range list {
		if a == nil {
			return nil, errors.New("nil agent")
		}
		t := a.Type()
		if !t.Valid() {
			return nil, fmt.Errorf("unknown agent type %q", t)
		}
		if _, dup := r.agents[t]; dup {
			return nil, fmt.Errorf("duplicate agent for %s", t)
		}
		r.agents[t] = a
	}
	for _, t := range AllAgentTypes() {
		if _, ok := r.agents[t]; !ok {
			return nil, fmt.Errorf("no agent registered for %s", t)
		}
	}
	return r, nil
}

// NewDefaultRegistry wires the shipped agents around one model client.
func NewDefaultRegistry(model agents.ModelClient) (*Registry, error) {
	spec, err := agents.NewSpecAgent(model)
	if err != nil {
		return nil, fmt.Errorf("spec agent: %w", err)
	}
	code, err := agents.NewCodeAgent(model)
	if err != nil {
		return nil, fmt.Errorf("code agent: %w", err)
	}
	tests, err := agents.NewTestGeneratorAgent(model)
	if err != nil {
		return nil, fmt.Errorf("test generator agent: %w", err)
	}
	review, err := agents.NewReviewerAgent(model)
	if err != nil {
		return nil, fmt.Errorf("reviewer agent: %w", err)
	}
	debug, err := agents.NewDebugAgent(model)
	if err != nil {
		return nil, fmt.Errorf("debug agent: %w", err)
	}
	return NewRegistry(
		&specAdapter{agent: spec},
		&codeAdapter{agent: code},
		&testAdapter{agent: tests},
		&reviewAdapter{agent: review},
		&debugAdapter{agent: debug},
	)
}

// Resolve returns the agent for t. NewRegistry guarantees an agent for
// every stage kind, so Resolve is total over AllAgentTypes.
func (r *Registry) Resolve(t AgentType) Agent {
	return r.agents[t]
}
