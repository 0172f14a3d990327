package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"github.com/memberhq/contentsync/internal/config"
)

// SourceStatus is the persisted state of a configured source: its identity
// columns mirror the configuration, the last_sync columns are mutated by the
// orchestrator after each run.
type SourceStatus struct {
	Name            string
	Repo            string
	Family          string
	Private         bool
	LastSyncedAt    *time.Time
	LastSyncStatus  *string
	LastSyncSummary *string
}

// UpsertSource seeds or refreshes the row for a configured source. The
// last_sync columns are not part of the upsert; they survive config reloads.
func (d *Database) UpsertSource(ctx context.Context, src *config.Source) error {
	return tx1(ctx, d, func(tx *sql.Tx) error {
		return d.upsert(ctx, tx, "sources",
			[]string{"name", "repo", "family", "private"},
			[]string{"name"},
			src.Name, src.Git.RepoName(), src.Family.String(), src.Private())
	})
}

func (d *Database) GetSource(ctx context.Context, name string) (*SourceStatus, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("name", "repo", "family", "private", "last_synced_at", "last_sync_status", "last_sync_summary").
		From("sources")
	sb.Where(sb.Equal("name", name))

	query, args := sb.BuildWithFlavor(d.flavor())

	var s SourceStatus
	err := d.db.QueryRowContext(ctx, query, args...).
		Scan(&s.Name, &s.Repo, &s.Family, &s.Private, &s.LastSyncedAt, &s.LastSyncStatus, &s.LastSyncSummary)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (d *Database) ListSources(ctx context.Context) ([]*SourceStatus, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("name", "repo", "family", "private", "last_synced_at", "last_sync_status", "last_sync_summary").
		From("sources").
		OrderBy("name")

	query, args := sb.BuildWithFlavor(d.flavor())

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*SourceStatus
	for rows.Next() {
		var s SourceStatus
		if err := rows.Scan(&s.Name, &s.Repo, &s.Family, &s.Private, &s.LastSyncedAt, &s.LastSyncStatus, &s.LastSyncSummary); err != nil {
			return nil, err
		}
		result = append(result, &s)
	}
	return result, rows.Err()
}

// UpdateSourceSyncStatus records the outcome of the most recent run on the
// source row. Called on every run exit path regardless of outcome.
func (d *Database) UpdateSourceSyncStatus(ctx context.Context, name string, syncedAt time.Time, status, summary string) error {
	query := `UPDATE sources SET last_synced_at = ` + d.arg(0) +
		`, last_sync_status = ` + d.arg(1) +
		`, last_sync_summary = ` + d.arg(2) +
		` WHERE name = ` + d.arg(3)
	_, err := d.db.ExecContext(ctx, query, syncedAt.UTC(), status, summary, name)
	return err
}
