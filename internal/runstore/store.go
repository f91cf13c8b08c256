// Package runstore keeps the history of refinement runs in SQLite.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"repoforge/internal/controller"
	"repoforge/internal/logging"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// RunRecord is one stored run. Summary holds the full serialized report.
type RunRecord struct {
	ID          string
	Query       string
	ProjectName string
	Success     bool
	Degraded    bool
	FinalState  string
	Iterations  int
	Blocking    int
	ExitCode    sql.NullInt64
	Duration    time.Duration
	Artifact    string
	Error       string
	Summary     controller.Summary
	CreatedAt   time.Time
}

// IterationRow is the per-pass history kept alongside each run.
type IterationRow struct {
	RunID           string
	Index           int
	FindingsBefore  int
	FindingsAfter   int
	Applied         int
	Regenerated     []string
	BlockingRemains bool
}

// Store is the SQLite run history.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// Open initializes the database at path. ":memory:" gives a private in-memory store.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "runstore.Open")
	defer timer.Stop()

	logging.Store("Opening run history at %s", path)
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("%s failed: %v", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL DEFAULT '',
			project_name TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL,
			degraded INTEGER NOT NULL,
			final_state TEXT NOT NULL,
			iterations INTEGER NOT NULL,
			blocking INTEGER NOT NULL,
			exit_code INTEGER,
			duration_ms INTEGER NOT NULL,
			artifact TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS run_iterations (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			idx INTEGER NOT NULL,
			findings_before INTEGER NOT NULL,
			findings_after INTEGER NOT NULL,
			applied INTEGER NOT NULL,
			regenerated TEXT NOT NULL,
			blocking_remains INTEGER NOT NULL,
			PRIMARY KEY (run_id, idx)
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewRecord builds a record from a finished run.
func NewRecord(id, query string, rep *controller.Report, duration time.Duration, artifact string) RunRecord {
	sum := rep.Summary()
	rec := RunRecord{
		ID:          id,
		Query:       query,
		ProjectName: sum.ProjectName,
		Success:     rep.Success,
		Degraded:    rep.Degraded,
		FinalState:  string(rep.FinalState),
		Iterations:  len(rep.Iterations),
		Blocking:    len(rep.Blocking()),
		Duration:    duration,
		Artifact:    artifact,
		Error:       sum.Error,
		Summary:     sum,
		CreatedAt:   time.Now(),
	}
	if rep.Execution != nil {
		rec.ExitCode = sql.NullInt64{Int64: int64(rep.Execution.ExitCode), Valid: true}
	}
	return rec
}

// Save stores a run and its iteration rows in one transaction.
func (s *Store) Save(ctx context.Context, rec RunRecord) error {
	timer := logging.StartTimer(logging.CategoryStore, "runstore.Save")
	defer timer.Stop()

	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs
		 (id, query, project_name, success, degraded, final_state, iterations, blocking, exit_code, duration_ms, artifact, error, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Query, rec.ProjectName, rec.Success, rec.Degraded, rec.FinalState, rec.Iterations,
		rec.Blocking, rec.ExitCode, rec.Duration.Milliseconds(), rec.Artifact, rec.Error, string(summary),
		rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to store run %s: %v", rec.ID, err)
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_iterations WHERE run_id = ?`, rec.ID); err != nil {
		return err
	}
	for _, it := range rec.Summary.Iterations {
		regen, _ := json.Marshal(nonNilStrings(it.Regenerated))
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_iterations (run_id, idx, findings_before, findings_after, applied, regenerated, blocking_remains)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, it.Index, len(it.Before), len(it.After), it.Applied, string(regen), it.BlockingRemains,
		)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logging.StoreDebug("Run stored: id=%s success=%v iterations=%d", rec.ID, rec.Success, rec.Iterations)
	return nil
}

const runColumns = `id, query, project_name, success, degraded, final_state, iterations, blocking, exit_code, duration_ms, artifact, error, summary, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var (
		rec       RunRecord
		summary   string
		durMS     int64
		createdMS int64
	)
	err := row.Scan(&rec.ID, &rec.Query, &rec.ProjectName, &rec.Success, &rec.Degraded, &rec.FinalState,
		&rec.Iterations, &rec.Blocking, &rec.ExitCode, &durMS, &rec.Artifact, &rec.Error, &summary, &createdMS)
	if err != nil {
		return rec, err
	}
	rec.Duration = time.Duration(durMS) * time.Millisecond
	rec.CreatedAt = time.UnixMilli(createdMS)
	if err := json.Unmarshal([]byte(summary), &rec.Summary); err != nil {
		return rec, fmt.Errorf("decode summary of run %s: %w", rec.ID, err)
	}
	return rec, nil
}

// Get returns one run.
func (s *Store) Get(ctx context.Context, id string) (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]RunRecord, error) {
	timer := logging.StartTimer(logging.CategoryStore, "runstore.List")
	defer timer.Stop()

	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("skipping unreadable run: %v", err)
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Iterations returns the per-pass rows of a run in order.
func (s *Store) Iterations(ctx context.Context, id string) ([]IterationRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, idx, findings_before, findings_after, applied, regenerated, blocking_remains
		 FROM run_iterations WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IterationRow
	for rows.Next() {
		var (
			row   IterationRow
			regen string
		)
		if err := rows.Scan(&row.RunID, &row.Index, &row.FindingsBefore, &row.FindingsAfter, &row.Applied, &regen, &row.BlockingRemains); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(regen), &row.Regenerated); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Stats summarizes outcomes across all stored runs.
type Stats struct {
	Total         int     `json:"total"`
	Succeeded     int     `json:"succeeded"`
	Degraded      int     `json:"degraded"`
	Failed        int     `json:"failed"`
	AvgIterations float64 `json:"avg_iterations"`
}

// Stats returns outcome counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(success), 0),
		        COALESCE(SUM(degraded), 0),
		        COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(iterations), 0)
		 FROM runs`).Scan(&st.Total, &st.Succeeded, &st.Degraded, &st.Failed, &st.AvgIterations)
	return st, err
}

// Prune deletes runs older than the cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Store("Pruned %d runs older than %s", n, olderThan.Format(time.RFC3339))
	}
	return n, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
