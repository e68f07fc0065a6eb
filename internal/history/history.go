// Package history records stitch runs in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"panostitch/internal/stitch"

	_ "modernc.org/sqlite"
)

// Status values for a Run.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Run is one persisted stitch attempt.
type Run struct {
	ID         int64                `json:"id"`
	CreatedAt  time.Time            `json:"created_at"`
	Direction  string               `json:"direction"`
	Inputs     []string             `json:"inputs"`
	OutputPath string               `json:"output_path,omitempty"`
	Width      int                  `json:"width,omitempty"`
	Height     int                  `json:"height,omitempty"`
	Status     string               `json:"status"`
	Error      string               `json:"error,omitempty"`
	Duration   time.Duration        `json:"duration"`
	Pairs      []stitch.PairSummary `json:"pairs,omitempty"`
}

// FromResult builds a Run from the outcome of Stitcher.StitchAndSave.
func FromResult(inputs []string, dir stitch.Direction, res *stitch.Result, err error, at time.Time) Run {
	run := Run{
		CreatedAt: at,
		Direction: dir.String(),
		Inputs:    inputs,
		Status:    StatusOK,
	}
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		return run
	}
	run.OutputPath = res.OutputPath
	run.Width = res.Width
	run.Height = res.Height
	run.Duration = res.Duration
	run.Pairs = res.Pairs
	return run
}

// Store wraps SQLite-backed persistence for runs.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stitch_runs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            created_at TEXT NOT NULL,
            direction TEXT NOT NULL,
            inputs_json TEXT NOT NULL,
            output_path TEXT,
            width INTEGER,
            height INTEGER,
            status TEXT NOT NULL,
            error_message TEXT,
            duration_ms INTEGER,
            pairs_json TEXT
        );`,
		`CREATE INDEX IF NOT EXISTS idx_stitch_runs_created_at ON stitch_runs(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts run and returns its id.
func (s *Store) Record(ctx context.Context, run Run) (int64, error) {
	inputs, err := json.Marshal(run.Inputs)
	if err != nil {
		return 0, err
	}
	pairs, err := json.Marshal(run.Pairs)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO stitch_runs
        (created_at, direction, inputs_json, output_path, width, height, status, error_message, duration_ms, pairs_json)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.CreatedAt.UTC().Format(time.RFC3339Nano),
		run.Direction,
		string(inputs),
		run.OutputPath,
		run.Width,
		run.Height,
		run.Status,
		run.Error,
		run.Duration.Milliseconds(),
		string(pairs),
	)
	if err != nil {
		return 0, fmt.Errorf("record run: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, direction, inputs_json,
        COALESCE(output_path, ''), COALESCE(width, 0), COALESCE(height, 0), status,
        COALESCE(error_message, ''), COALESCE(duration_ms, 0), COALESCE(pairs_json, 'null')
        FROM stitch_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			run        Run
			createdAt  string
			inputsJSON string
			pairsJSON  string
			durationMS int64
		)
		if err := rows.Scan(&run.ID, &createdAt, &run.Direction, &inputsJSON,
			&run.OutputPath, &run.Width, &run.Height, &run.Status,
			&run.Error, &durationMS, &pairsJSON); err != nil {
			return nil, err
		}
		if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("run %d: created_at: %w", run.ID, err)
		}
		if err := json.Unmarshal([]byte(inputsJSON), &run.Inputs); err != nil {
			return nil, fmt.Errorf("run %d: inputs: %w", run.ID, err)
		}
		if err := json.Unmarshal([]byte(pairsJSON), &run.Pairs); err != nil {
			return nil, fmt.Errorf("run %d: pairs: %w", run.ID, err)
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, run)
	}
	return out, rows.Err()
}
