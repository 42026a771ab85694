// Package history persists conversion and batch runs so past work can be
// listed and inspected after restarts.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunKind distinguishes stored run types.
type RunKind string

const (
	KindConvert RunKind = "convert"
	KindBatch   RunKind = "batch"
)

// RunStatus is the lifecycle state of a stored run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = errors.New("run not found")

// Run is one recorded conversion or batch run.
type Run struct {
	ID         string     `json:"id"`
	Kind       RunKind    `json:"kind"`
	Status     RunStatus  `json:"status"`
	TotalItems int        `json:"total_items"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Item is one per-file outcome within a run.
type Item struct {
	Source     string    `json:"source"`
	Target     string    `json:"target,omitempty"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Repository stores runs and their items in sqlite.
type Repository struct {
	conn *sql.DB
}

func NewRepository(conn *sql.DB) *Repository {
	return &Repository{conn: conn}
}

// CreateRun inserts a new running run and returns its id.
func (r *Repository) CreateRun(ctx context.Context, kind RunKind, totalItems int) (string, error) {
	id := uuid.NewString()
	_, err := r.conn.ExecContext(ctx,
		`INSERT INTO runs (id, kind, status, total_items) VALUES (?, ?, 'running', ?)`,
		id, string(kind), totalItems)
	if err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}
	return id, nil
}

// FinishRun records the terminal status for a run.
func (r *Repository) FinishRun(ctx context.Context, id string, status RunStatus, errMsg string) error {
	res, err := r.conn.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = NULLIF(?, ''), finished_at = datetime('now') WHERE id = ?`,
		string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddItem appends one per-file outcome to a run.
func (r *Repository) AddItem(ctx context.Context, runID, source, target, status, message string) error {
	_, err := r.conn.ExecContext(ctx,
		`INSERT INTO run_items (run_id, source, target, status, message) VALUES (?, ?, ?, ?, ?)`,
		runID, source, target, status, message)
	if err != nil {
		return fmt.Errorf("adding run item: %w", err)
	}
	return nil
}

// GetRun returns a run with its items.
func (r *Repository) GetRun(ctx context.Context, id string) (Run, []Item, error) {
	var run Run
	var kind, status string
	var errMsg sql.NullString
	var started string
	var finished sql.NullString

	err := r.conn.QueryRowContext(ctx,
		`SELECT id, kind, status, total_items, error, started_at, finished_at FROM runs WHERE id = ?`,
		id).Scan(&run.ID, &kind, &status, &run.TotalItems, &errMsg, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, nil, ErrNotFound
	}
	if err != nil {
		return Run{}, nil, fmt.Errorf("loading run: %w", err)
	}
	run.Kind = RunKind(kind)
	run.Status = RunStatus(status)
	run.Error = errMsg.String
	run.StartedAt = parseDBTime(started)
	if finished.Valid {
		t := parseDBTime(finished.String)
		run.FinishedAt = &t
	}

	rows, err := r.conn.QueryContext(ctx,
		`SELECT source, target, status, message, recorded_at FROM run_items WHERE run_id = ? ORDER BY id`,
		id)
	if err != nil {
		return Run{}, nil, fmt.Errorf("loading run items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var target, message sql.NullString
		var recorded string
		if err := rows.Scan(&it.Source, &target, &it.Status, &message, &recorded); err != nil {
			return Run{}, nil, fmt.Errorf("scanning run item: %w", err)
		}
		it.Target = target.String
		it.Message = message.String
		it.RecordedAt = parseDBTime(recorded)
		items = append(items, it)
	}
	return run, items, rows.Err()
}

// ListRuns returns the most recent runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn.QueryContext(ctx,
		`SELECT id, kind, status, total_items, error, started_at, finished_at FROM runs ORDER BY started_at DESC, id LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var kind, status string
		var errMsg sql.NullString
		var started string
		var finished sql.NullString
		if err := rows.Scan(&run.ID, &kind, &status, &run.TotalItems, &errMsg, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		run.Kind = RunKind(kind)
		run.Status = RunStatus(status)
		run.Error = errMsg.String
		run.StartedAt = parseDBTime(started)
		if finished.Valid {
			t := parseDBTime(finished.String)
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func parseDBTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
