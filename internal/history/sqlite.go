// Package history keeps a local log of pipeline runs in SQLite so the
// service can answer "what happened on recent runs" without re-reading
// artifacts. History is advisory: a write failure never fails a run.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/insightops/kpipulse/internal/models"
)

//go:embed schema.sql
var schemaSQL string

const timeLayout = "2006-01-02 15:04:05"

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) RecordRun(ctx context.Context, res *models.RunResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (
			run_id, started_at, finished_at, status,
			range_start, range_end, rows, action_items, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID,
		res.StartedAt.UTC().Format(timeLayout),
		res.FinishedAt.UTC().Format(timeLayout),
		string(res.Status),
		res.RangeStart,
		res.RangeEnd,
		res.Rows,
		res.ActionItems,
		res.Error,
	)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

func (s *Store) RecentRuns(ctx context.Context, limit int) ([]models.RunResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, status,
		       range_start, range_end, rows, action_items, error
		FROM pipeline_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []models.RunResult
	for rows.Next() {
		var r models.RunResult
		var started, finished, status string
		if err := rows.Scan(&r.RunID, &started, &finished, &status,
			&r.RangeStart, &r.RangeEnd, &r.Rows, &r.ActionItems, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Status = models.RunStatus(status)
		r.StartedAt, _ = time.Parse(timeLayout, started)
		r.FinishedAt, _ = time.Parse(timeLayout, finished)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return out, nil
}
