// Package history records every export_data and import_data run in the
// snapshot_runs table.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = errors.New("history: run not found")

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one service call and its outcome.
type Run struct {
	ID         string         `json:"id"`
	Operation  string         `json:"operation"`
	Status     string         `json:"status"`
	Source     string         `json:"source"`
	Filename   string         `json:"filename,omitempty"`
	DryRun     bool           `json:"dry_run,omitempty"`
	Bytes      int            `json:"bytes,omitempty"`
	Total      int            `json:"total"`
	Updated    int            `json:"updated"`
	Unchanged  int            `json:"unchanged"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Duration is the run time, or zero while the run is still going.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Filter controls which runs to return.
type Filter struct {
	Operation string // optional: export_data or import_data
	Status    string // optional: running, succeeded, failed
	Limit     int    // default 50, max 200
	Offset    int
}

// ListResult is one page of runs.
type ListResult struct {
	Runs   []Run `json:"runs"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// Repository stores runs.
type Repository interface {
	Start(ctx context.Context, run *Run) error
	Finish(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository keeps runs in SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a run repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Start inserts run with status running. ID and StartedAt are filled in
// when empty.
func (r *SQLiteRepository) Start(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = "run-" + uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = r.now().UTC()
	}
	if run.Source == "" {
		run.Source = "api"
	}
	run.Status = StatusRunning

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO snapshot_runs (id, operation, status, source, filename, dry_run, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Operation, run.Status, run.Source,
		nullableString(run.Filename), run.DryRun,
		run.StartedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// Finish stores the outcome of run. Status is failed when Error is set.
func (r *SQLiteRepository) Finish(ctx context.Context, run *Run) error {
	finished := r.now().UTC()
	run.FinishedAt = &finished
	run.Status = StatusSucceeded
	if run.Error != "" {
		run.Status = StatusFailed
	}

	var detailsJSON *string
	if run.Details != nil {
		b, err := json.Marshal(run.Details)
		if err != nil {
			return fmt.Errorf("marshalling run details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE snapshot_runs SET status = ?, filename = ?, bytes = ?, total = ?, updated = ?,
			unchanged = ?, skipped = ?, failed = ?, error = ?, details = ?, finished_at = ?
		 WHERE id = ?`,
		run.Status, nullableString(run.Filename), run.Bytes, run.Total, run.Updated,
		run.Unchanged, run.Skipped, run.Failed, nullableString(run.Error), detailsJSON,
		finished.Format(timeFormat), run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// timeFormat is fixed width so started_at sorts as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `id, operation, status, source, filename, dry_run, bytes, total, updated,
	unchanged, skipped, failed, error, details, started_at, finished_at`

// Get returns a single run.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM snapshot_runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns runs matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Operation != "" {
		conditions = append(conditions, "operation = ?")
		args = append(args, filter.Operation)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM snapshot_runs " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting runs: %w", err)
	}

	query := "SELECT " + runColumns + " FROM snapshot_runs " + where + //nolint:gosec // WHERE built from parameterised conditions
		" ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}

	return &ListResult{Runs: runs, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var filename, errText, details, finishedAt sql.NullString
	var startedAt string
	err := s.Scan(&run.ID, &run.Operation, &run.Status, &run.Source, &filename, &run.DryRun,
		&run.Bytes, &run.Total, &run.Updated, &run.Unchanged, &run.Skipped, &run.Failed,
		&errText, &details, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}

	run.Filename = filename.String
	run.Error = errText.String
	if details.Valid && details.String != "" {
		var d map[string]any
		if json.Unmarshal([]byte(details.String), &d) == nil {
			run.Details = d
		}
	}
	if run.StartedAt, err = time.Parse(timeFormat, startedAt); err != nil {
		return nil, fmt.Errorf("parsing run start %q: %w", startedAt, err)
	}
	if finishedAt.Valid {
		t, err := time.Parse(timeFormat, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing run finish %q: %w", finishedAt.String, err)
		}
		run.FinishedAt = &t
	}
	return &run, nil
}

// nullableString maps "" to NULL for optional TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
