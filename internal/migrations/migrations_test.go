package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/memberhq/contentsync/internal/config"
	"github.com/memberhq/contentsync/internal/database"
)

func TestRunSQLite(t *testing.T) {
	ctx := t.Context()

	db, err := New().
		WithConfig(&config.Database{SQL: &config.SQLDatabase{Driver: "sqlite", DSN: database.SQLiteMemoryOnlyDSN}}).
		WithMigrate(true).
		Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer db.CloseDB()

	// All tables exist and are empty after a fresh migration.
	for _, tbl := range []string{"sources", "sync_runs", "sync_run_errors", "content_items", "assets"} {
		var n int
		if err := db.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tbl).Scan(&n); err != nil {
			t.Fatalf("table %s: %v", tbl, err)
		} else if n != 0 {
			t.Fatalf("table %s: expected empty, got %d rows", tbl, n)
		}
	}

	var coverType string
	err = db.DB().QueryRowContext(ctx,
		"SELECT type FROM pragma_table_info('content_items') WHERE name = 'cover_image_url'").Scan(&coverType)
	if err != nil {
		t.Fatalf("cover_image_url column missing: %v", err)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := t.Context()
	cfg := &config.Database{SQL: &config.SQLDatabase{Driver: "sqlite", DSN: database.SQLiteMemoryOnlyDSN}}

	db, err := New().WithConfig(cfg).WithMigrate(true).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer db.CloseDB()

	db2, err := New().WithConfig(cfg).WithMigrate(true).Run(ctx)
	if err != nil {
		t.Fatalf("second run on migrated database: %v", err)
	}
	db2.CloseDB()
}

func TestAllDialects(t *testing.T) {
	for _, dialect := range []string{"sqlite", "postgresql", "mysql"} {
		files, err := fs.Glob(All(dialect), "*.up.sql")
		if err != nil {
			t.Fatal(err)
		}
		if len(files) != len(schema)+1 {
			t.Fatalf("%s: expected %d migrations, got %v", dialect, len(schema)+1, files)
		}
		for _, name := range files {
			bs, err := fs.ReadFile(All(dialect), name)
			if err != nil {
				t.Fatal(err)
			}
			if strings.TrimSpace(string(bs)) == "" {
				t.Fatalf("%s: %s is empty", dialect, name)
			}
		}
	}
}
