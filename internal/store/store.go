// Package store keeps finished orchestration responses for later lookup.
//
// Records are written once when a run finishes. Nothing in the store is ever
// replayed; it only answers "what happened to request X".
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/codexd/internal/config"
)

// ErrNotFound is returned by Get for unknown request IDs.
var ErrNotFound = errors.New("request not found")

// Record is a finished orchestration response.
type Record struct {
	ID        string          `json:"request_id"`
	Status    string          `json:"status"`
	Success   bool            `json:"success"`
	Prompt    string          `json:"prompt"`
	CreatedAt time.Time       `json:"created_at"`
	Response  json.RawMessage `json:"response"`
}

// Store saves and looks up records.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// List returns up to limit records, newest first.
	List(ctx context.Context, limit int) ([]*Record, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(cfg config.HistoryConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(cfg.Size)
	case "sqlite":
		return NewSQLite(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}

func validate(rec *Record) error {
	if rec == nil || rec.ID == "" {
		return errors.New("record id is required")
	}
	if rec.Response != nil && !json.Valid(rec.Response) {
		return fmt.Errorf("record %s: response is not valid JSON", rec.ID)
	}
	return nil
}

// previewLen bounds the prompt kept alongside a record.
const previewLen = 200

func preview(prompt string) string {
	r := []rune(prompt)
	if len(r) <= previewLen {
		return prompt
	}
	return string(r[:previewLen]) + "..."
}
