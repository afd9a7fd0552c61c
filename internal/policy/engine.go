// Package policy decides whether an orchestration request may run.
//
// Policies are Rego modules in package codexd.admission that define a
// decision object {"allow": bool, "reason": string}. The module is evaluated
// once per request with an Input document.
package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/open-policy-agent/opa/v1/rego"
)

const query = "data.codexd.admission.decision"

// ErrDenied is returned by Admit when the policy rejects a request.
var ErrDenied = errors.New("policy denied")

// Input is the document the policy sees as `input`.
type Input struct {
	Agents       []string          `json:"agents"`
	PromptLength int               `json:"prompt_length"`
	Options      map[string]string `json:"options"`
	ContextKeys  []string          `json:"context_keys"`
}

// Decision is the policy outcome.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// Engine evaluates the admission policy. The prepared query can be swapped
// by Reload while evaluations are in flight.
type Engine struct {
	mu    sync.RWMutex
	query rego.PreparedEvalQuery
	path  string
}

// New compiles module. An empty module selects DefaultPolicy.
func New(ctx context.Context, module string) (*Engine, error) {
	e := &Engine{}
	if err := e.compile(ctx, module); err != nil {
		return nil, err
	}
	return e, nil
}

// Load compiles the policy file at path, or DefaultPolicy when path is "".
func Load(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return New(ctx, "")
	}
	e := &Engine{path: path}
	if err := e.Reload(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload recompiles the policy file. On failure the previous policy stays
// in effect.
func (e *Engine) Reload(ctx context.Context) error {
	if e.path == "" {
		return nil
	}
	data, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("reading policy %s: %w", e.path, err)
	}
	return e.compile(ctx, string(data))
}

func (e *Engine) compile(ctx context.Context, module string) error {
	if module == "" {
		module = DefaultPolicy
	}
	name := "admission.rego"
	if e.path != "" {
		name = e.path
	}
	prepared, err := rego.New(
		rego.Query(query),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare rego: %w", err)
	}
	e.mu.Lock()
	e.query = prepared
	e.mu.Unlock()
	return nil
}

// Evaluate returns the policy decision for in. A policy that yields no
// decision denies.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Decision, error) {
	e.mu.RLock()
	q := e.query
	e.mu.RUnlock()

	// Policies see [] and {} rather than null.
	if in.Agents == nil {
		in.Agents = []string{}
	}
	if in.ContextKeys == nil {
		in.ContextKeys = []string{}
	}
	if in.Options == nil {
		in.Options = map[string]string{}
	}

	results, err := q.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Reason: "policy produced no decision"}, nil
	}
	switch v := results[0].Expressions[0].Value.(type) {
	case bool:
		return Decision{Allow: v}, nil
	case map[string]interface{}:
		d := Decision{}
		d.Allow, _ = v["allow"].(bool)
		d.Reason, _ = v["reason"].(string)
		return d, nil
	default:
		return Decision{}, fmt.Errorf("unexpected decision type %T", v)
	}
}

// Admit returns nil when in is allowed and an error wrapping ErrDenied with
// the policy's reason otherwise.
func (e *Engine) Admit(ctx context.Context, in Input) error {
	d, err := e.Evaluate(ctx, in)
	if err != nil {
		return err
	}
	if d.Allow {
		return nil
	}
	if d.Reason == "" {
		return ErrDenied
	}
	return fmt.Errorf("%w: %s", ErrDenied, d.Reason)
}

// DefaultPolicy bounds prompt size and sequence length.
const DefaultPolicy = `
package codexd.admission

max_prompt_length := 100000

max_agents := 10

decision := {"allow": false, "reason": sprintf("prompt exceeds %d characters", [max_prompt_length])} if {
	input.prompt_length > max_prompt_length
} else := {"allow": false, "reason": sprintf("more than %d agents requested", [max_agents])} if {
	count(input.agents) > max_agents
} else := {"allow": true, "reason": ""}
`
