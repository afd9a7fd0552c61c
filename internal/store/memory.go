package store

import (
	"context"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Memory keeps the most recently saved records in an LRU cache.
type Memory struct {
	cache *lru.Cache[string, *Record]
}

// NewMemory returns a Memory store holding at most size records.
func NewMemory(size int) (*Memory, error) {
	c, err := lru.New[string, *Record](size)
	if err != nil {
		return nil, fmt.Errorf("creating history cache: %w", err)
	}
	return &Memory{cache: c}, nil
}

func (m *Memory) Save(_ context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	cp := *rec
	cp.Prompt = preview(rec.Prompt)
	cp.Response = append([]byte(nil), rec.Response...)
	m.cache.Add(rec.ID, &cp)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*Record, error) {
	rec, ok := m.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) List(_ context.Context, limit int) ([]*Record, error) {
	values := m.cache.Values()
	out := make([]*Record, 0, len(values))
	// Values is oldest first; walk it backwards so ties stay newest first.
	for i := len(values) - 1; i >= 0; i-- {
		cp := *values[i]
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.cache.Purge()
	return nil
}
