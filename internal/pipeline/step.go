package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StepResult is the outcome of a single agent invocation.
type StepResult struct {
	Output  AgentOutput
	Elapsed time.Duration
	Err     error
}

// Execute invokes agent once with wall-clock timing. A returned error, a
// panic, or an empty output all become a failure sentinel output carrying
// the message; Execute itself never fails.
func Execute(ctx context.Context, agent Agent, input AgentInput) StepResult {
	start := time.Now()
	out, err := invoke(ctx, agent, input)
	elapsed := time.Since(start)

	if err == nil && !out.present() {
		err = fmt.Errorf("agent %s returned no output", agent.Type())
	}
	if err == nil && out.Failed() {
		err = errors.New(out.Failure.Error)
	}
	if err != nil {
		return StepResult{
			Output:  AgentOutput{Type: agent.Type(), Failure: &StepFailure{Error: err.Error(), Agent: agent.Type()}},
			Elapsed: elapsed,
			Err:     err,
		}
	}
	return StepResult{Output: out, Elapsed: elapsed}
}

// invoke runs agent.Invoke on its own goroutine so a done ctx abandons an
// agent that ignores cancellation. The abandoned call finishes in the
// background and its result is dropped.
func invoke(ctx context.Context, agent Agent, input AgentInput) (AgentOutput, error) {
	type outcome struct {
		out AgentOutput
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		var res outcome
		defer func() {
			if r := recover(); r != nil {
				res = outcome{err: fmt.Errorf("agent panicked: %v", r)}
			}
			done <- res
		}()
		res.out, res.err = agent.Invoke(ctx, input)
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-ctx.Done():
		return AgentOutput{}, ctx.Err()
	}
}
