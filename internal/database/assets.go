package database

import (
	"context"
	"database/sql"
	"time"
)

// Asset maps a repository file at a particular content hash to its durable
// storage URL. The mapping is append-only: a changed file gets a new row
// under its new hash, old rows are never removed.
type Asset struct {
	SourceRepo   string
	RelativePath string
	ContentHash  string
	URL          string
	UploadedAt   time.Time
}

// LookupAsset returns the stored URL for the exact (repo, path, hash)
// triple, if the asset was uploaded before.
func (d *Database) LookupAsset(ctx context.Context, sourceRepo, relativePath, contentHash string) (string, bool, error) {
	query := `SELECT url FROM assets WHERE source_repo = ` + d.arg(0) +
		` AND relative_path = ` + d.arg(1) + ` AND content_hash = ` + d.arg(2)

	var url string
	err := d.db.QueryRowContext(ctx, query, sourceRepo, relativePath, contentHash).Scan(&url)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return url, true, nil
}

func (d *Database) InsertAsset(ctx context.Context, asset *Asset) error {
	return tx1(ctx, d, func(tx *sql.Tx) error {
		return d.upsert(ctx, tx, "assets",
			[]string{"source_repo", "relative_path", "content_hash", "url", "uploaded_at"},
			[]string{"source_repo", "relative_path", "content_hash"},
			asset.SourceRepo, asset.RelativePath, asset.ContentHash, asset.URL, asset.UploadedAt.UTC())
	})
}
