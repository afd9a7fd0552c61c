// Package pipeline runs an orchestration request through an ordered sequence
// of agents.
//
// A run resolves the agent sequence, builds each step's input from the
// request and the output of the last successful step, invokes the agent with
// timing and failure isolation, and folds the step records into a Result.
//
// A failing step never aborts the run. Its record is kept, a warning is
// appended, and the next step is fed from the last successful output, which
// stays unchanged across failures. Only context cancellation ends a run
// early, in which case no partial result is returned.
//
// The Registry is immutable after construction and safe to share across
// concurrent runs. Each Run owns its own state.
package pipeline
