// Package storage persists scan and backtest runs so results can be listed
// and re-read after the fact.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"tfmr/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS scan_runs (
    id          TEXT PRIMARY KEY,
    started_at  DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    source      TEXT     NOT NULL DEFAULT '',
    scanned     INTEGER  NOT NULL DEFAULT 0,
    candidates  INTEGER  NOT NULL DEFAULT 0,
    failures    INTEGER  NOT NULL DEFAULT 0,
    payload     TEXT     NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_runs (
    id          TEXT PRIMARY KEY,
    started_at  DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    symbols     INTEGER  NOT NULL DEFAULT 0,
    trades      INTEGER  NOT NULL DEFAULT 0,
    failures    INTEGER  NOT NULL DEFAULT 0,
    payload     TEXT     NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scan_started     ON scan_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_backtest_started ON backtest_runs(started_at DESC);
`

const retention = 90 * 24 * time.Hour

// ScanRun is one persisted universe scan.
type ScanRun struct {
	ID         string             `json:"id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Source     string             `json:"source"`
	Result     *engine.ScanResult `json:"result"`
}

// BacktestRun is one persisted multi-symbol backtest.
type BacktestRun struct {
	ID         string             `json:"id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Reports    []*engine.Report   `json:"reports"`
	Errors     []engine.ScanError `json:"errors,omitempty"`
}

// RunSummary is the cheap listing row; the payload stays on disk.
type RunSummary struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Count      int       `json:"count"`
	Failures   int       `json:"failures"`
}

// Store is a SQLite-backed run archive. Pure Go driver, no CGo.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path, applies the schema and prunes
// runs past retention.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.Open: %q: %w", path, err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.Open: apply schema: %w", err)
	}

	s := &Store{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retention)
	s.db.ExecContext(ctx, `DELETE FROM scan_runs WHERE started_at < ?`, cutoff)
	s.db.ExecContext(ctx, `DELETE FROM backtest_runs WHERE started_at < ?`, cutoff)
}

// SaveScanRun stores the run and assigns an ID when none is set.
func (s *Store) SaveScanRun(ctx context.Context, run *ScanRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("storage.SaveScanRun: marshal: %w", err)
	}

	candidates, failures := 0, 0
	scanned := 0
	if run.Result != nil {
		candidates = len(run.Result.Candidates)
		failures = len(run.Result.Errors)
		scanned = run.Result.Scanned
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_runs (id, started_at, finished_at, source, scanned, candidates, failures, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Source,
		scanned, candidates, failures, string(payload),
	); err != nil {
		return fmt.Errorf("storage.SaveScanRun: insert %s: %w", run.ID, err)
	}
	return nil
}

// GetScanRun reads one run back by ID; sql.ErrNoRows when absent.
func (s *Store) GetScanRun(ctx context.Context, id string) (*ScanRun, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM scan_runs WHERE id = ?`, id,
	).Scan(&payload)
	if err != nil {
		return nil, fmt.Errorf("storage.GetScanRun: %s: %w", id, err)
	}

	var run ScanRun
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return nil, fmt.Errorf("storage.GetScanRun: decode %s: %w", id, err)
	}
	return &run, nil
}

// ListScanRuns returns the most recent runs, newest first.
func (s *Store) ListScanRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, candidates, failures
		FROM scan_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.ListScanRuns: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// SaveBacktestRun stores the run and assigns an ID when none is set.
func (s *Store) SaveBacktestRun(ctx context.Context, run *BacktestRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("storage.SaveBacktestRun: marshal: %w", err)
	}

	trades := 0
	for _, r := range run.Reports {
		trades += len(r.Trades)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs (id, started_at, finished_at, symbols, trades, failures, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		len(run.Reports), trades, len(run.Errors), string(payload),
	); err != nil {
		return fmt.Errorf("storage.SaveBacktestRun: insert %s: %w", run.ID, err)
	}
	return nil
}

// GetBacktestRun reads one run back by ID; sql.ErrNoRows when absent.
func (s *Store) GetBacktestRun(ctx context.Context, id string) (*BacktestRun, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM backtest_runs WHERE id = ?`, id,
	).Scan(&payload)
	if err != nil {
		return nil, fmt.Errorf("storage.GetBacktestRun: %s: %w", id, err)
	}

	var run BacktestRun
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return nil, fmt.Errorf("storage.GetBacktestRun: decode %s: %w", id, err)
	}
	return &run, nil
}

// ListBacktestRuns returns the most recent runs, newest first.
func (s *Store) ListBacktestRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, trades, failures
		FROM backtest_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.ListBacktestRuns: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func scanSummaries(rows *sql.Rows) ([]RunSummary, error) {
	var out []RunSummary
	for rows.Next() {
		var sum RunSummary
		if err := rows.Scan(&sum.ID, &sum.StartedAt, &sum.FinishedAt, &sum.Count, &sum.Failures); err != nil {
			return nil, fmt.Errorf("storage: scan row: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
