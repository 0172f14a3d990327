package database_test

import (
	"testing"

	"github.com/memberhq/contentsync/internal/config"
	"github.com/memberhq/contentsync/internal/database"
	"github.com/memberhq/contentsync/internal/migrations"
)

func testDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := migrations.New().
		WithConfig(&config.Database{SQL: &config.SQLDatabase{Driver: "sqlite", DSN: database.SQLiteMemoryOnlyDSN}}).
		WithMigrate(true).
		Run(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.CloseDB() })
	return db
}

func syncedItem(slug, path string) *database.ContentItem {
	repo := "org/blog"
	commit := "0123456789abcdef0123456789abcdef01234567"
	return &database.ContentItem{
		Family:       string(config.FamilyArticle),
		Slug:         slug,
		Title:        slug,
		Body:         "body of " + slug,
		SourceRepo:   &repo,
		SourcePath:   &path,
		SourceCommit: &commit,
		ContentHash:  "hash-" + slug,
	}
}

func TestReconcileSoftDeletesUnseenPaths(t *testing.T) {
	ctx := t.Context()
	db := testDB(t)

	for _, item := range []*database.ContentItem{
		syncedItem("keep", "articles/keep.md"),
		syncedItem("gone", "articles/gone.md"),
	} {
		if _, err := db.UpsertContent(ctx, item); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.ReconcileContent(ctx, "org/blog", []string{"articles/keep.md"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 item withdrawn, got %d", n)
	}

	kept, err := db.GetContent(ctx, string(config.FamilyArticle), "keep")
	if err != nil {
		t.Fatal(err)
	}
	if kept.DeletedAt != nil || !kept.Published {
		t.Fatalf("seen item must stay live, got deleted_at=%v published=%v", kept.DeletedAt, kept.Published)
	}

	gone, err := db.GetContent(ctx, string(config.FamilyArticle), "gone")
	if err != nil {
		t.Fatal(err)
	}
	if gone.DeletedAt == nil || gone.Published {
		t.Fatalf("unseen item must be withdrawn, got deleted_at=%v published=%v", gone.DeletedAt, gone.Published)
	}
	if !gone.UpdatedAt.Equal(*gone.DeletedAt) {
		t.Fatalf("withdrawal must stamp updated_at, got updated_at=%v deleted_at=%v", gone.UpdatedAt, gone.DeletedAt)
	}

	// Already-withdrawn rows are not counted again.
	n, err = db.ReconcileContent(ctx, "org/blog", []string{"articles/keep.md"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected repeat reconcile to withdraw nothing, got %d", n)
	}
}

func TestReconcileWithNoSeenPathsWithdrawsAll(t *testing.T) {
	ctx := t.Context()
	db := testDB(t)

	for _, item := range []*database.ContentItem{
		syncedItem("a", "articles/a.md"),
		syncedItem("b", "articles/b.md"),
	} {
		if _, err := db.UpsertContent(ctx, item); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.ReconcileContent(ctx, "org/blog", nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 items withdrawn, got %d", n)
	}
}
