package pipeline

import "time"

// Aggregate folds step records into run metadata. The success rate is a
// percentage and is 0 for a run with no steps.
func Aggregate(steps []AgentExecution, warnings []string, elapsed time.Duration) Metadata {
	succeeded := 0
	for _, s := range steps {
		if s.Success {
			succeeded++
		}
	}
	rate := 0.0
	if len(steps) > 0 {
		rate = float64(succeeded) / float64(len(steps)) * 100
	}
	w := make([]string, len(warnings))
	copy(w, warnings)
	return Metadata{
		TotalExecutionTimeMs: elapsed.Milliseconds(),
		AgentsExecuted:       len(steps),
		SuccessRate:          rate,
		Warnings:             w,
	}
}

// finalResult returns the output of the last successful step.
func finalResult(steps []AgentExecution) *AgentOutput {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Success {
			out := steps[i].Output
			return &out
		}
	}
	return nil
}
