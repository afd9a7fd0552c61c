// Package events publishes orchestration progress.
//
// Every run emits started, then step_started and step_completed or
// step_failed per agent, then completed or failed. Events travel over NATS on
// subjects of the form {prefix}.{request_id}.{kind}; a Local bus delivers
// the same events in-process.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies an event.
type Kind string

const (
	KindStarted       Kind = "started"
	KindStepStarted   Kind = "step_started"
	KindStepCompleted Kind = "step_completed"
	KindStepFailed    Kind = "step_failed"
	KindCompleted     Kind = "completed"
	KindFailed        Kind = "failed"
)

// Terminal reports whether k ends a run's event stream.
func (k Kind) Terminal() bool {
	return k == KindCompleted || k == KindFailed
}

// Event is one progress notification.
type Event struct {
	RequestID  string          `json:"request_id"`
	Kind       Kind            `json:"kind"`
	Agent      string          `json:"agent,omitempty"`
	Step       int             `json:"step"`
	Total      int             `json:"total"`
	Percentage int             `json:"percentage"`
	Message    string          `json:"message,omitempty"`
	ElapsedMs  int64           `json:"elapsed_ms,omitempty"`
	Error      string          `json:"error,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

var (
	// ErrUnavailable is returned by Subscribe when no bus is configured.
	ErrUnavailable = errors.New("event bus unavailable")

	// ErrInvalidRequestID is returned for IDs that cannot be a subject token.
	ErrInvalidRequestID = errors.New("invalid request id")
)

// Bus publishes events and streams them back per request.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe streams events for requestID until ctx is done, a terminal
	// event is delivered or the returned cancel func is called.
	Subscribe(ctx context.Context, requestID string) (<-chan Event, func(), error)
	Close() error
}

// Subject returns the NATS subject for ev.
func Subject(prefix, requestID string, kind Kind) string {
	return fmt.Sprintf("%s.%s.%s", prefix, requestID, kind)
}

func validRequestID(id string) error {
	if id == "" || strings.ContainsAny(id, ".*> \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidRequestID, id)
	}
	return nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Subscribe(context.Context, string) (<-chan Event, func(), error) {
	return nil, func() {}, ErrUnavailable
}

func (Nop) Close() error { return nil }

// Fanout publishes to every bus and subscribes through the first.
type Fanout []Bus

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, b := range f {
		if err := b.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Subscribe(ctx context.Context, requestID string) (<-chan Event, func(), error) {
	if len(f) == 0 {
		return nil, func() {}, ErrUnavailable
	}
	return f[0].Subscribe(ctx, requestID)
}

func (f Fanout) Close() error {
	var errs []error
	for _, b := range f {
		errs = append(errs, b.Close())
	}
	return errors.Join(errs...)
}
