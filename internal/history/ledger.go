// Package history keeps a sqlite ledger of finished runs and their task outcomes.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"jobx-market/internal/model"
	"jobx-market/internal/summary"
)

const DefaultPath = "jobx-history.db"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	output_dir TEXT NOT NULL,
	config_file TEXT,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	duration_seconds REAL NOT NULL,
	exit_status TEXT NOT NULL,
	tasks_total INTEGER NOT NULL,
	tasks_successful INTEGER NOT NULL,
	tasks_failed INTEGER NOT NULL,
	jobs_total INTEGER NOT NULL,
	jobs_with_salary INTEGER NOT NULL,
	recommendation TEXT
);

CREATE TABLE IF NOT EXISTS run_outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	task_key TEXT NOT NULL,
	role_id TEXT NOT NULL,
	market TEXT,
	success INTEGER NOT NULL,
	row_count INTEGER NOT NULL,
	salary_row_count INTEGER NOT NULL,
	category TEXT,
	error TEXT,
	attempts INTEGER NOT NULL,
	duration_seconds REAL,
	reloaded INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_outcomes_run ON run_outcomes(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`

type Ledger struct {
	db *sql.DB
}

// Run is one row of the runs table.
type Run struct {
	RunID           string
	OutputDir       string
	ConfigFile      string
	StartedAt       string
	FinishedAt      string
	DurationSeconds float64
	ExitStatus      string
	TasksTotal      int
	TasksSuccessful int
	TasksFailed     int
	JobsTotal       int
	JobsWithSalary  int
	Recommendation  string
}

func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history db %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordRun stores the summary and every outcome in one transaction. Recording the
// same run id twice replaces the earlier rows.
func (l *Ledger) RecordRun(ctx context.Context, outputDir string, s summary.RunSummary, outcomes []model.TaskOutcome) (err error) {
	if s.RunID == "" {
		return errors.New("run summary has no run id")
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM run_outcomes WHERE run_id = ?`, s.RunID); err != nil {
		return fmt.Errorf("clear outcomes: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO runs (
		run_id, output_dir, config_file, started_at, finished_at, duration_seconds, exit_status,
		tasks_total, tasks_successful, tasks_failed, jobs_total, jobs_with_salary, recommendation
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, outputDir, s.ConfigFile, s.RunStartedAt, s.RunFinishedAt, s.DurationSecs, string(s.ExitStatus),
		s.Tasks.Total, s.Tasks.Successful, s.Tasks.Failed, s.Jobs.Total, s.Jobs.WithSalary, s.Recommendation,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_outcomes (
		run_id, task_key, role_id, market, success, row_count, salary_row_count,
		category, error, attempts, duration_seconds, reloaded
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare outcome insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range outcomes {
		var dur sql.NullFloat64
		if o.HasDuration() {
			dur = sql.NullFloat64{Float64: o.Duration(), Valid: true}
		}
		if _, err = stmt.ExecContext(ctx,
			s.RunID, o.Task.Key(), o.Task.RoleID, o.Task.MarketName, o.Success, o.RowCount, o.SalaryRowCount,
			string(o.Category), o.Error, o.Attempts, dur, o.Reloaded,
		); err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.Task.Key(), err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit history tx: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `SELECT
		run_id, output_dir, COALESCE(config_file, ''), started_at, finished_at, duration_seconds, exit_status,
		tasks_total, tasks_successful, tasks_failed, jobs_total, jobs_with_salary, COALESCE(recommendation, '')
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(
			&r.RunID, &r.OutputDir, &r.ConfigFile, &r.StartedAt, &r.FinishedAt, &r.DurationSeconds, &r.ExitStatus,
			&r.TasksTotal, &r.TasksSuccessful, &r.TasksFailed, &r.JobsTotal, &r.JobsWithSalary, &r.Recommendation,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// FailedTasks lists the task keys that failed in a run, with their last error.
func (l *Ledger) FailedTasks(ctx context.Context, runID string) (map[string]string, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT task_key, COALESCE(error, '') FROM run_outcomes WHERE run_id = ? AND success = 0 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list failed tasks: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var key, msg string
		if err := rows.Scan(&key, &msg); err != nil {
			return nil, fmt.Errorf("scan failed task: %w", err)
		}
		out[key] = msg
	}
	return out, rows.Err()
}
