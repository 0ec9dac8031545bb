// Package history records completed benchmark runs in an on-disk SQLite
// database so timings can be compared across runs and machines.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/example/gammabench/internal/bench"
)

const (
	createRunsTableStmt = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    n_obs INTEGER NOT NULL,
    obs_id INTEGER,
    version TEXT,
    host TEXT,
    total_seconds REAL NOT NULL
);`
	createStagesTableStmt = `
CREATE TABLE IF NOT EXISTS stages (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    stage TEXT NOT NULL,
    seconds REAL NOT NULL,
    PRIMARY KEY (run_id, position)
);`
	createIndexesStmt = `
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_stages_stage ON stages(stage);`
	insertRunStmt   = `INSERT INTO runs(id, started_at, n_obs, obs_id, version, host, total_seconds) VALUES(?, ?, ?, ?, ?, ?, ?)`
	insertStageStmt = `INSERT INTO stages(run_id, position, stage, seconds) VALUES(?, ?, ?, ?)`
)

// Run is one recorded benchmark run.
type Run struct {
	ID        string
	StartedAt time.Time
	ObsID     int64
	Version   string
	Host      string
	Report    *bench.Report
}

// Store persists runs into a SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("history path cannot be empty")
	}
	dir := filepath.Dir(p)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, stmt := range []string{createRunsTableStmt, createStagesTableStmt, createIndexesStmt} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure history schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores run in one transaction. An empty ID is replaced by a new
// UUID, which is returned.
func (s *Store) Record(ctx context.Context, run Run) (string, error) {
	if run.Report == nil {
		return "", errors.New("history: run has no report")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertRunStmt,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.Report.NObs,
		run.ObsID,
		run.Version,
		run.Host,
		run.Report.Total(),
	); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertStageStmt)
	if err != nil {
		return "", err
	}
	defer stmt.Close()
	for i, t := range run.Report.Timings {
		if _, err := stmt.ExecContext(ctx, run.ID, i, t.Stage, t.Seconds); err != nil {
			return "", fmt.Errorf("insert stage %s: %w", t.Stage, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return run.ID, nil
}

// List returns up to limit runs, newest first, with their stages in
// execution order. A non-positive limit returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, started_at, n_obs, obs_id, version, host FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var runs []Run
	for rows.Next() {
		var (
			r       Run
			started string
			nObs    int
			obsID   sql.NullInt64
			version sql.NullString
			host    sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &nObs, &obsID, &version, &host); err != nil {
			rows.Close()
			return nil, err
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			rows.Close()
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
		r.ObsID, r.Version, r.Host = obsID.Int64, version.String, host.String
		r.Report = &bench.Report{NObs: nObs}
		runs = append(runs, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range runs {
		if err := s.loadStages(ctx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) loadStages(ctx context.Context, r *Run) error {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, seconds FROM stages WHERE run_id = ? ORDER BY position`, r.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var t bench.Timing
		if err := rows.Scan(&t.Stage, &t.Seconds); err != nil {
			return err
		}
		r.Report.Timings = append(r.Report.Timings, t)
	}
	return rows.Err()
}
