package events

import (
	"context"
	"sync"
)

const localBuffer = 64

// Local is an in-process bus. Slow subscribers lose events once their
// buffer is full; the terminal event is always delivered.
type Local struct {
	mu     sync.Mutex
	subs   map[string]map[*localSub]struct{}
	closed bool
}

type localSub struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *localSub) close() {
	s.once.Do(func() {
		close(s.ch)
		close(s.done)
	})
}

// NewLocal returns an empty Local bus.
func NewLocal() *Local {
	return &Local{subs: make(map[string]map[*localSub]struct{})}
}

func (l *Local) Publish(_ context.Context, ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for sub := range l.subs[ev.RequestID] {
		if ev.Kind.Terminal() {
			deliverLast(sub.ch, ev)
			delete(l.subs[ev.RequestID], sub)
			sub.close()
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
	if len(l.subs[ev.RequestID]) == 0 {
		delete(l.subs, ev.RequestID)
	}
	return nil
}

// deliverLast sends ev, evicting the oldest buffered event if ch is full.
// Only the publisher sends on ch, so the second send cannot block.
func deliverLast(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

func (l *Local) Subscribe(ctx context.Context, requestID string) (<-chan Event, func(), error) {
	if err := validRequestID(requestID); err != nil {
		return nil, func() {}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, func() {}, ErrUnavailable
	}
	sub := &localSub{ch: make(chan Event, localBuffer), done: make(chan struct{})}
	if l.subs[requestID] == nil {
		l.subs[requestID] = make(map[*localSub]struct{})
	}
	l.subs[requestID][sub] = struct{}{}

	cancel := func() { l.remove(requestID, sub) }
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()
	return sub.ch, cancel, nil
}

func (l *Local) remove(requestID string, sub *localSub) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if set, ok := l.subs[requestID]; ok {
		if _, ok := set[sub]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(l.subs, requestID)
			}
		}
	}
	sub.close()
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for id, set := range l.subs {
		for sub := range set {
			sub.close()
		}
		delete(l.subs, id)
	}
	return nil
}
