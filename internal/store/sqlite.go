package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite persists records in a single runs table.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dsn and applies the schema.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writes.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			request_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			success INTEGER NOT NULL,
			prompt TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			response TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

func (s *SQLite) Save(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (request_id, status, success, prompt, created_at, response)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(request_id) DO UPDATE SET
		   status = excluded.status, success = excluded.success,
		   prompt = excluded.prompt, created_at = excluded.created_at,
		   response = excluded.response`,
		rec.ID, rec.Status, rec.Success, preview(rec.Prompt), rec.CreatedAt.UnixNano(), string(rec.Response))
	if err != nil {
		return fmt.Errorf("saving run %s: %w", rec.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec      Record
		created  int64
		response sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Status, &rec.Success, &rec.Prompt, &created, &response); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	if response.Valid && response.String != "" {
		rec.Response = []byte(response.String)
	}
	return &rec, nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT request_id, status, success, prompt, created_at, response FROM runs WHERE request_id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLite) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, status, success, prompt, created_at, response FROM runs
		 ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
