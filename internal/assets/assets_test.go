package assets

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/memberhq/contentsync/internal/config"
	"github.com/memberhq/contentsync/internal/database"
	csync_fs "github.com/memberhq/contentsync/internal/fs"
	"github.com/memberhq/contentsync/internal/migrations"
	"github.com/memberhq/contentsync/internal/parser"
)

type fakeStorage struct {
	uploads int
	objects map[string][]byte
	fail    bool
}

func (f *fakeStorage) Upload(_ context.Context, key string, body io.Reader) error {
	if f.fail {
		return errors.New("upload refused")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	f.uploads++
	return nil
}

func (f *fakeStorage) URL(key string) string {
	return "https://cdn.test/" + key
}

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

func heroItem() *parser.Item {
	return &parser.Item{
		Family:     config.FamilyArticle,
		Slug:       "hello",
		Title:      "Hello",
		Body:       "intro\n\n![hero](images/hero.png)\n\nsee [the pdf](files/guide.pdf)\n",
		CoverImage: "images/hero.png",
		Path:       "articles/hello.md",
	}
}

func TestResolveRewritesAndDedups(t *testing.T) {
	ctx := t.Context()
	db := testDB(t)
	storage := &fakeStorage{}

	fsys := csync_fs.MapFS(map[string]string{
		"articles/images/hero.png": "png bytes",
		"articles/files/guide.pdf": "pdf bytes",
		"articles/hello.md":        "irrelevant",
	})

	pipeline := New(db, storage, "org/blog")

	item := heroItem()
	if errs := pipeline.Resolve(ctx, fsys, item); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	if storage.uploads != 2 {
		t.Fatalf("expected 2 uploads, got %d", storage.uploads)
	}
	if strings.Contains(item.Body, "(images/hero.png)") {
		t.Fatalf("expected reference rewritten, got body %q", item.Body)
	}
	if !strings.Contains(item.Body, "https://cdn.test/org/blog/") {
		t.Fatalf("expected storage URL in body, got %q", item.Body)
	}
	if !strings.HasPrefix(item.CoverImage, "https://cdn.test/") {
		t.Fatalf("expected cover image rewritten, got %q", item.CoverImage)
	}

	// Second run over unchanged bytes reuses the stored URLs.
	item = heroItem()
	if errs := pipeline.Resolve(ctx, fsys, item); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if storage.uploads != 2 {
		t.Fatalf("expected uploads to be deduplicated, got %d", storage.uploads)
	}
}

func TestChangedBytesTriggerReupload(t *testing.T) {
	ctx := t.Context()
	db := testDB(t)
	storage := &fakeStorage{}
	pipeline := New(db, storage, "org/blog")

	fsys := csync_fs.MapFS(map[string]string{"articles/images/hero.png": "v1"})

	item := heroItem()
	item.Body = "![hero](images/hero.png)\n"
	item.CoverImage = ""
	pipeline.Resolve(ctx, fsys, item)

	fsys = csync_fs.MapFS(map[string]string{"articles/images/hero.png": "v2"})
	item = heroItem()
	item.Body = "![hero](images/hero.png)\n"
	item.CoverImage = ""
	pipeline.Resolve(ctx, fsys, item)

	if storage.uploads != 2 {
		t.Fatalf("expected exactly one re-upload for changed bytes, got %d total", storage.uploads)
	}
}

func TestMissingAssetDoesNotAbortItem(t *testing.T) {
	ctx := t.Context()
	db := testDB(t)
	storage := &fakeStorage{}
	pipeline := New(db, storage, "org/blog")

	fsys := csync_fs.MapFS(map[string]string{"articles/images/hero.png": "png"})

	item := heroItem()
	item.Body = "![hero](images/hero.png) and ![gone](images/missing.png)\n"
	item.CoverImage = ""

	errs := pipeline.Resolve(ctx, fsys, item)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
	if errs[0].Path != "articles/images/missing.png" {
		t.Fatalf("unexpected error path %q", errs[0].Path)
	}

	// The resolvable reference was still rewritten, the missing one left as is.
	if !strings.Contains(item.Body, "https://cdn.test/") {
		t.Fatalf("expected resolvable reference rewritten: %q", item.Body)
	}
	if !strings.Contains(item.Body, "(images/missing.png)") {
		t.Fatalf("expected missing reference untouched: %q", item.Body)
	}
}

func TestAbsoluteReferencesLeftAlone(t *testing.T) {
	ctx := t.Context()
	db := testDB(t)
	storage := &fakeStorage{}
	pipeline := New(db, storage, "org/blog")

	item := heroItem()
	item.Body = "![ext](https://example.com/x.png) [anchor](#section) [root](/about)\n"
	item.CoverImage = ""

	if errs := pipeline.Resolve(ctx, csync_fs.MapFS(nil), item); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	if storage.uploads != 0 {
		t.Fatalf("expected no uploads, got %d", storage.uploads)
	}
}
