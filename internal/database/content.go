package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
)

// ContentItem is the conceptual view over every synced content row,
// regardless of family. The family-specific structure (timestamps, homework,
// materials, course position) lives in Fields.
type ContentItem struct {
	Family        string
	Slug          string
	Title         string
	Body          string
	RequiredLevel int
	Tags          []string
	Fields        map[string]any
	CoverImageURL *string
	Published     bool
	DeletedAt     *time.Time

	// Provenance. All nil for rows created by a human operator directly.
	SourceRepo   *string
	SourcePath   *string
	SourceCommit *string

	// ContentHash is a hash over the normalized record, used to detect
	// unchanged items so that re-running a sync reports zero updates.
	ContentHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertOutcome reports what an upsert did.
type UpsertOutcome int

const (
	UpsertCreated UpsertOutcome = iota
	UpsertUpdated
	UpsertUnchanged
)

func (o UpsertOutcome) String() string {
	switch o {
	case UpsertCreated:
		return "created"
	case UpsertUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// UpsertContent creates or updates a content row by its (family, slug)
// natural key. Each call is a single transactional unit.
//
// The repository is the source of truth: an existing row with no provenance
// (a direct, out-of-band edit) is overwritten when the same slug reappears
// in the repository. An existing row whose content hash matches the incoming
// record is left untouched and reported as unchanged.
func (d *Database) UpsertContent(ctx context.Context, item *ContentItem) (UpsertOutcome, error) {
	return tx2(ctx, d, func(tx *sql.Tx) (UpsertOutcome, error) {
		now := time.Now().UTC()

		var existingHash string
		var existingDeleted sql.NullTime
		query := `SELECT content_hash, deleted_at FROM content_items WHERE family = ` + d.arg(0) + ` AND slug = ` + d.arg(1)
		err := tx.QueryRowContext(ctx, query, item.Family, item.Slug).Scan(&existingHash, &existingDeleted)
		switch {
		case err == sql.ErrNoRows:
			if err := d.insertContent(ctx, tx, item, now); err != nil {
				return 0, err
			}
			return UpsertCreated, nil
		case err != nil:
			return 0, err
		}

		if existingHash == item.ContentHash && !existingDeleted.Valid {
			return UpsertUnchanged, nil
		}

		if err := d.updateContent(ctx, tx, item, now); err != nil {
			return 0, err
		}
		return UpsertUpdated, nil
	})
}

func (d *Database) insertContent(ctx context.Context, tx *sql.Tx, item *ContentItem, now time.Time) error {
	tags, fields, err := marshalContentJSON(item)
	if err != nil {
		return err
	}

	query := `INSERT INTO content_items
(family, slug, title, body, required_level, tags, fields, cover_image_url, published, deleted_at, source_repo, source_path, source_commit, content_hash, created_at, updated_at)
VALUES (` + strings.Join(d.args(16), ", ") + `)`
	_, err = tx.ExecContext(ctx, query,
		item.Family, item.Slug, item.Title, item.Body, item.RequiredLevel, tags, fields, item.CoverImageURL,
		true, nil, item.SourceRepo, item.SourcePath, item.SourceCommit, item.ContentHash, now, now)
	return err
}

func (d *Database) updateContent(ctx context.Context, tx *sql.Tx, item *ContentItem, now time.Time) error {
	tags, fields, err := marshalContentJSON(item)
	if err != nil {
		return err
	}

	query := `UPDATE content_items SET
title = ` + d.arg(0) + `, body = ` + d.arg(1) + `, required_level = ` + d.arg(2) +
		`, tags = ` + d.arg(3) + `, fields = ` + d.arg(4) + `, cover_image_url = ` + d.arg(5) +
		`, published = ` + d.arg(6) + `, deleted_at = NULL` +
		`, source_repo = ` + d.arg(7) + `, source_path = ` + d.arg(8) + `, source_commit = ` + d.arg(9) +
		`, content_hash = ` + d.arg(10) + `, updated_at = ` + d.arg(11) +
		` WHERE family = ` + d.arg(12) + ` AND slug = ` + d.arg(13)
	_, err = tx.ExecContext(ctx, query,
		item.Title, item.Body, item.RequiredLevel, tags, fields, item.CoverImageURL, true,
		item.SourceRepo, item.SourcePath, item.SourceCommit, item.ContentHash, now,
		item.Family, item.Slug)
	return err
}

// ReconcileContent soft-deletes previously synced items of the given
// repository whose source path was not observed during the current run.
// Rows are marked withdrawn, never removed; cross-references and history
// stay intact. Returns the number of items soft-deleted.
func (d *Database) ReconcileContent(ctx context.Context, sourceRepo string, seenPaths []string) (int, error) {
	return tx2(ctx, d, func(tx *sql.Tx) (int, error) {
		now := time.Now().UTC()

		// Placeholders stay strictly sequential so positional dialects bind
		// every argument; now is bound once per column that takes it.
		args := []any{now, now, sourceRepo}
		query := `UPDATE content_items SET deleted_at = ` + d.arg(0) + `, published = ` + boolLiteral(false) +
			`, updated_at = ` + d.arg(1) +
			` WHERE source_repo = ` + d.arg(2) + ` AND deleted_at IS NULL`

		if len(seenPaths) > 0 {
			placeholders := make([]string, len(seenPaths))
			for i, p := range seenPaths {
				placeholders[i] = d.arg(i + 3)
				args = append(args, p)
			}
			query += ` AND source_path NOT IN (` + strings.Join(placeholders, ", ") + `)`
		}

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		return int(n), err
	})
}

func (d *Database) GetContent(ctx context.Context, family, slug string) (*ContentItem, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("family", "slug", "title", "body", "required_level", "tags", "fields",
		"cover_image_url", "published", "deleted_at", "source_repo", "source_path", "source_commit",
		"content_hash", "created_at", "updated_at").
		From("content_items")
	sb.Where(sb.Equal("family", family), sb.Equal("slug", slug))

	query, args := sb.BuildWithFlavor(d.flavor())
	return scanContent(d.db.QueryRowContext(ctx, query, args...))
}

// ListContent returns content rows for a family, optionally including
// soft-deleted ones.
func (d *Database) ListContent(ctx context.Context, family string, includeDeleted bool) ([]*ContentItem, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("family", "slug", "title", "body", "required_level", "tags", "fields",
		"cover_image_url", "published", "deleted_at", "source_repo", "source_path", "source_commit",
		"content_hash", "created_at", "updated_at").
		From("content_items").
		OrderBy("slug")
	sb.Where(sb.Equal("family", family))
	if !includeDeleted {
		sb.Where(sb.IsNull("deleted_at"))
	}

	query, args := sb.BuildWithFlavor(d.flavor())
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ContentItem
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

// InsertDirectContent creates a row with no provenance, as the admin surface
// does for content authored outside any repository. Used by tests to model
// direct edits.
func (d *Database) InsertDirectContent(ctx context.Context, item *ContentItem) error {
	return tx1(ctx, d, func(tx *sql.Tx) error {
		item.SourceRepo, item.SourcePath, item.SourceCommit = nil, nil, nil
		return d.insertContent(ctx, tx, item, time.Now().UTC())
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(row rowScanner) (*ContentItem, error) {
	var item ContentItem
	var tags, fields []byte
	var deleted sql.NullTime
	err := row.Scan(&item.Family, &item.Slug, &item.Title, &item.Body, &item.RequiredLevel,
		&tags, &fields, &item.CoverImageURL, &item.Published, &deleted,
		&item.SourceRepo, &item.SourcePath, &item.SourceCommit,
		&item.ContentHash, &item.CreatedAt, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if deleted.Valid {
		t := deleted.Time
		item.DeletedAt = &t
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &item.Tags); err != nil {
			return nil, err
		}
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &item.Fields); err != nil {
			return nil, err
		}
	}
	return &item, nil
}

func marshalContentJSON(item *ContentItem) ([]byte, []byte, error) {
	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return nil, nil, err
	}
	fields, err := json.Marshal(item.Fields)
	if err != nil {
		return nil, nil, err
	}
	return tags, fields, nil
}

func boolLiteral(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}
