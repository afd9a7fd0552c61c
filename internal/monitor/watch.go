package monitor

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fyrsmithlabs/codexd/internal/events"
)

// Watch renders the events from ch until the run finishes, the channel
// closes or the user quits. It returns the terminal event when one arrived.
func Watch(ctx context.Context, requestID string, ch <-chan events.Event, opts ...tea.ProgramOption) (*events.Event, error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(NewModel(requestID, ch), opts...).Run()
	if err != nil {
		return nil, fmt.Errorf("running monitor: %w", err)
	}
	m, ok := final.(Model)
	if !ok {
		return nil, fmt.Errorf("unexpected monitor model %T", final)
	}
	return m.Final(), nil
}
