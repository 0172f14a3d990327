package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
)

// Run statuses. A run is created in the running state and finalized exactly
// once into one of the terminal states.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusFailed  = "failed"
)

// Run is one ledger entry: a single execution of the sync pipeline for one
// source. Immutable once finalized.
type Run struct {
	ID           string // uuid
	SourceName   string
	Partial      bool // webhook-scoped run over a subset of changed paths
	Commit       string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       string
	ItemsCreated int
	ItemsUpdated int
	ItemsDeleted int
	Errors       []RunError

	seq int64 // pagination cursor, internal
}

// RunError is one per-item failure recorded during a run, in the order it
// occurred.
type RunError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// InsertRun creates the ledger entry at run start, in the running state.
func (d *Database) InsertRun(ctx context.Context, run *Run) error {
	return tx1(ctx, d, func(tx *sql.Tx) error {
		query := `INSERT INTO sync_runs (uuid, source_name, partial, commit_sha, started_at, status, items_created, items_updated, items_deleted)
VALUES (` + strings.Join(d.args(9), ", ") + `)`
		_, err := tx.ExecContext(ctx, query,
			run.ID, run.SourceName, run.Partial, run.Commit, run.StartedAt.UTC(), RunStatusRunning, 0, 0, 0)
		return err
	})
}

// FinalizeRun records the terminal state, counts and the ordered error list.
func (d *Database) FinalizeRun(ctx context.Context, run *Run) error {
	return tx1(ctx, d, func(tx *sql.Tx) error {
		query := `UPDATE sync_runs SET finished_at = ` + d.arg(0) +
			`, status = ` + d.arg(1) +
			`, commit_sha = ` + d.arg(2) +
			`, items_created = ` + d.arg(3) +
			`, items_updated = ` + d.arg(4) +
			`, items_deleted = ` + d.arg(5) +
			` WHERE uuid = ` + d.arg(6)

		finished := time.Now().UTC()
		if run.FinishedAt != nil {
			finished = run.FinishedAt.UTC()
		}
		run.FinishedAt = &finished

		if _, err := tx.ExecContext(ctx, query, finished, run.Status, run.Commit,
			run.ItemsCreated, run.ItemsUpdated, run.ItemsDeleted, run.ID); err != nil {
			return err
		}

		for i, e := range run.Errors {
			query := `INSERT INTO sync_run_errors (run_uuid, seq, path, message) VALUES (` + strings.Join(d.args(4), ", ") + `)`
			if _, err := tx.ExecContext(ctx, query, run.ID, i, e.Path, e.Message); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Database) GetRun(ctx context.Context, id string) (*Run, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id", "uuid", "source_name", "partial", "commit_sha", "started_at", "finished_at",
		"status", "items_created", "items_updated", "items_deleted").
		From("sync_runs")
	sb.Where(sb.Equal("uuid", id))

	query, args := sb.BuildWithFlavor(d.flavor())

	var run Run
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&run.seq, &run.ID, &run.SourceName,
		&run.Partial, &run.Commit, &run.StartedAt, &run.FinishedAt, &run.Status,
		&run.ItemsCreated, &run.ItemsUpdated, &run.ItemsDeleted)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.Errors, err = d.runErrors(ctx, run.ID)
	return &run, err
}

// ListRuns returns the run history for a source, newest first, with cursor
// pagination.
func (d *Database) ListRuns(ctx context.Context, sourceName string, opts ListOptions) ([]*Run, string, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id", "uuid", "source_name", "partial", "commit_sha", "started_at", "finished_at",
		"status", "items_created", "items_updated", "items_deleted").
		From("sync_runs").
		OrderBy("id").Desc()

	if sourceName != "" {
		sb.Where(sb.Equal("source_name", sourceName))
	}
	if after := opts.cursor(); after > 0 {
		sb.Where(sb.LessThan("id", after))
	}
	if opts.Limit > 0 {
		sb.Limit(opts.Limit)
	}

	query, args := sb.BuildWithFlavor(d.flavor())

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var result []*Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.seq, &run.ID, &run.SourceName, &run.Partial, &run.Commit,
			&run.StartedAt, &run.FinishedAt, &run.Status,
			&run.ItemsCreated, &run.ItemsUpdated, &run.ItemsDeleted); err != nil {
			return nil, "", err
		}
		result = append(result, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	for _, run := range result {
		if run.Errors, err = d.runErrors(ctx, run.ID); err != nil {
			return nil, "", err
		}
	}

	var cursor string
	if opts.Limit > 0 && len(result) == opts.Limit {
		cursor = encodeCursor(result[len(result)-1].seq)
	}
	return result, cursor, nil
}

func (d *Database) runErrors(ctx context.Context, runID string) ([]RunError, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("path", "message").From("sync_run_errors").OrderBy("seq")
	sb.Where(sb.Equal("run_uuid", runID))

	query, args := sb.BuildWithFlavor(d.flavor())

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var errs []RunError
	for rows.Next() {
		var e RunError
		if err := rows.Scan(&e.Path, &e.Message); err != nil {
			return nil, err
		}
		errs = append(errs, e)
	}
	return errs, rows.Err()
}
