package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/memberhq/contentsync/internal/config"
	"github.com/memberhq/contentsync/internal/database"
	"github.com/memberhq/contentsync/internal/migrations"
)

func TestFullRunIsIdempotent(t *testing.T) {
	ctx := t.Context()
	upstream := newUpstream(t)
	commitFile(t, upstream, "articles/hello.md", article("hello", "Hello"), "add hello")
	commitFile(t, upstream, "articles/tips.md", article("tips", "Ten Tips"), "add tips")

	svc, db := testService(t, upstream)

	run, err := svc.Trigger(ctx, "blog", TriggerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != database.RunStatusSuccess {
		t.Fatalf("expected success, got %s (errors %v)", run.Status, run.Errors)
	}
	if run.ItemsCreated != 2 || run.ItemsUpdated != 0 || run.ItemsDeleted != 0 {
		t.Fatalf("unexpected counts: %+v", run)
	}
	if run.Commit == "" {
		t.Fatal("expected commit SHA on the run")
	}

	item, err := db.GetContent(ctx, "article", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if item.SourceRepo == nil || item.SourcePath == nil || *item.SourcePath != "articles/hello.md" {
		t.Fatalf("missing provenance: %+v", item)
	}
	if item.SourceCommit == nil || *item.SourceCommit != run.Commit {
		t.Fatal("expected item stamped with the run's commit")
	}

	// Unchanged content is a no-op on the second run.
	run, err = svc.Trigger(ctx, "blog", TriggerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != database.RunStatusSuccess || run.ItemsCreated != 0 || run.ItemsUpdated != 0 || run.ItemsDeleted != 0 {
		t.Fatalf("expected no-op rerun, got %+v", run)
	}

	src, err := db.GetSource(ctx, "blog")
	if err != nil {
		t.Fatal(err)
	}
	if src.LastSyncStatus == nil || *src.LastSyncStatus != database.RunStatusSuccess {
		t.Fatalf("expected source status updated, got %+v", src)
	}
}

func TestMalformedFileDoesNotAbortRun(t *testing.T) {
	ctx := t.Context()
	upstream := newUpstream(t)
	commitFile(t, upstream, "articles/good.md", article("good", "Good"), "add good")
	commitFile(t, upstream, "articles/broken.md", "---\nslug: [\n", "add broken")

	svc, db := testService(t, upstream)

	run, err := svc.Trigger(ctx, "blog", TriggerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != database.RunStatusPartial {
		t.Fatalf("expected partial, got %s", run.Status)
	}
	if run.ItemsCreated != 1 {
		t.Fatalf("expected the valid item created, got %+v", run)
	}
	if len(run.Errors) != 1 || run.Errors[0].Path != "articles/broken.md" {
		t.Fatalf("unexpected errors: %v", run.Errors)
	}

	if _, err := db.GetContent(ctx, "article", "good"); err != nil {
		t.Fatal(err)
	}
}

func TestReconcileSoftDeletesRemovedFiles(t *testing.T) {
	ctx := t.Context()
	upstream := newUpstream(t)
	commitFile(t, upstream, "articles/keep.md", article("keep", "Keep"), "add keep")
	commitFile(t, upstream, "articles/drop.md", article("drop", "Drop"), "add drop")

	svc, db := testService(t, upstream)

	if _, err := svc.Trigger(ctx, "blog", TriggerOptions{}); err != nil {
		t.Fatal(err)
	}

	removeFile(t, upstream, "articles/drop.md", "remove drop")

	run, err := svc.Trigger(ctx, "blog", TriggerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != database.RunStatusSuccess || run.ItemsDeleted != 1 {
		t.Fatalf("expected one soft-delete, got %+v", run)
	}

	items, err := db.ListContent(ctx, "article", true)
	if err != nil {
		t.Fatal(err)
	}
	var dropped *database.ContentItem
	for _, item := range items {
		if item.Slug == "drop" {
			dropped = item
		}
	}
	if dropped == nil || dropped.DeletedAt == nil || dropped.Published {
		t.Fatalf("expected drop withdrawn, got %+v", dropped)
	}

	live, err := db.ListContent(ctx, "article", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 || live[0].Slug != "keep" {
		t.Fatalf("expected only keep live, got %d items", len(live))
	}
}

func TestScopedRunSkipsReconcile(t *testing.T) {
	ctx := t.Context()
	upstream := newUpstream(t)
	commitFile(t, upstream, "articles/keep.md", article("keep", "Keep"), "add keep")
	commitFile(t, upstream, "articles/other.md", article("other", "Other"), "add other")

	svc, db := testService(t, upstream)

	if _, err := svc.Trigger(ctx, "blog", TriggerOptions{}); err != nil {
		t.Fatal(err)
	}

	// The webhook reports one changed path. The file no longer present in
	// the tree must not be withdrawn by a scoped run.
	removeFile(t, upstream, "articles/other.md", "remove other")
	commitFile(t, upstream, "articles/keep.md", article("keep", "Keep Updated"), "update keep")

	run, err := svc.Trigger(ctx, "blog", TriggerOptions{ChangedPaths: []string{"articles/keep.md"}})
	if err != nil {
		t.Fatal(err)
	}
	if !run.Partial || run.Status != database.RunStatusSuccess {
		t.Fatalf("expected successful scoped run, got %+v", run)
	}
	if run.ItemsUpdated != 1 || run.ItemsDeleted != 0 {
		t.Fatalf("expected one update and no deletes, got %+v", run)
	}

	live, err := db.ListContent(ctx, "article", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 2 {
		t.Fatalf("expected both items still live, got %d", len(live))
	}
}

func TestScopedRunOutsideContentRootParsesNothing(t *testing.T) {
	ctx := t.Context()
	upstream := newUpstream(t)
	commitFile(t, upstream, "content/articles/hello.md", article("hello", "Hello"), "add hello")
	commitFile(t, upstream, "README.md", "# Readme\n", "add readme")

	root := "content"
	svc, _ := testService(t, upstream, func(src *config.Source) {
		src.Git.Path = &root
	})

	if _, err := svc.Trigger(ctx, "blog", TriggerOptions{}); err != nil {
		t.Fatal(err)
	}

	run, err := svc.Trigger(ctx, "blog", TriggerOptions{ChangedPaths: []string{"README.md"}})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != database.RunStatusSuccess || run.ItemsCreated+run.ItemsUpdated+run.ItemsDeleted != 0 {
		t.Fatalf("expected empty scoped run, got %+v", run)
	}
}

func TestDirectEditOverwrittenBySync(t *testing.T) {
	ctx := t.Context()
	upstream := newUpstream(t)
	commitFile(t, upstream, "articles/hello.md", article("hello", "Hello From Git"), "add hello")

	svc, db := testService(t, upstream)

	if err := db.InsertDirectContent(ctx, &database.ContentItem{
		Family: "article",
		Slug:   "hello",
		Title:  "Hand Edited",
		Body:   "edited in the admin ui",
	}); err != nil {
		t.Fatal(err)
	}

	run, err := svc.Trigger(ctx, "blog", TriggerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if run.ItemsUpdated != 1 {
		t.Fatalf("expected direct edit overwritten, got %+v", run)
	}

	item, err := db.GetContent(ctx, "article", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if item.Title != "Hello From Git" || item.SourceRepo == nil {
		t.Fatalf("expected repository record to win, got %+v", item)
	}
}

func TestFetchFailureMarksRunFailed(t *testing.T) {
	ctx := t.Context()
	svc, db := testService(t, filepath.Join(t.TempDir(), "missing"))

	run, err := svc.Trigger(ctx, "blog", TriggerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != database.RunStatusFailed || len(run.Errors) == 0 {
		t.Fatalf("expected failed run with error, got %+v", run)
	}

	stored, err := db.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != database.RunStatusFailed || stored.FinishedAt == nil {
		t.Fatalf("expected ledger finalized, got %+v", stored)
	}
}

func TestRunTimeoutMarksRunFailed(t *testing.T) {
	ctx := t.Context()
	upstream := newUpstream(t)
	commitFile(t, upstream, "articles/hello.md", article("hello", "Hello"), "add hello")

	svc, db := testService(t, upstream)
	svc.config.Service = &config.Service{RunTimeout: config.Duration(time.Nanosecond)}

	run, err := svc.Trigger(ctx, "blog", TriggerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != database.RunStatusFailed || len(run.Errors) == 0 {
		t.Fatalf("expected failed run with error, got %+v", run)
	}
	timedOut := false
	for _, e := range run.Errors {
		timedOut = timedOut || strings.Contains(e.Message, "run timed out after")
	}
	if !timedOut {
		t.Fatalf("expected a timeout message, got %+v", run.Errors)
	}

	// The ledger is finalized even though the run deadline has passed.
	stored, err := db.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != database.RunStatusFailed || stored.FinishedAt == nil {
		t.Fatalf("expected ledger finalized, got %+v", stored)
	}

	// The registry slot is free again.
	if !svc.registry.acquire("blog") {
		t.Fatal("expected the slot to be released after the timed-out run")
	}
	svc.registry.release("blog")
}

func TestConcurrentRunRejected(t *testing.T) {
	ctx := t.Context()
	upstream := newUpstream(t)
	commitFile(t, upstream, "articles/hello.md", article("hello", "Hello"), "add hello")

	svc, _ := testService(t, upstream)

	if !svc.registry.acquire("blog") {
		t.Fatal("expected to acquire the slot")
	}
	defer svc.registry.release("blog")

	if _, err := svc.Trigger(ctx, "blog", TriggerOptions{}); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
}

func TestTriggerUnknownSource(t *testing.T) {
	svc, _ := testService(t, newUpstream(t))

	if _, err := svc.Trigger(t.Context(), "nope", TriggerOptions{}); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestInitSchedulesRuns(t *testing.T) {
	ctx := t.Context()
	upstream := newUpstream(t)
	commitFile(t, upstream, "articles/hello.md", article("hello", "Hello"), "add hello")

	svc, db := testService(t, upstream)

	if err := svc.Init(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		runs, _, err := db.ListRuns(ctx, "blog", database.ListOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if len(runs) > 0 && runs[0].Status == database.RunStatusSuccess {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no successful scheduled run, have %d runs", len(runs))
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestTriggerBackground(t *testing.T) {
	ctx := t.Context()
	upstream := newUpstream(t)
	commitFile(t, upstream, "articles/hello.md", article("hello", "Hello"), "add hello")

	svc, db := testService(t, upstream)

	run, err := svc.TriggerBackground(ctx, "blog", TriggerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if run.ID == "" || run.Status != database.RunStatusRunning {
		t.Fatalf("expected running snapshot, got %+v", run)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		stored, err := db.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatal(err)
		}
		if stored.Status == database.RunStatusSuccess {
			if stored.ItemsCreated != 1 {
				t.Fatalf("unexpected counts: %+v", stored)
			}
			return
		}
		if stored.Status != database.RunStatusRunning {
			t.Fatalf("unexpected status %s", stored.Status)
		}
		if time.Now().After(deadline) {
			t.Fatal("run did not finish")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWorkerCoalescesPendingScopes(t *testing.T) {
	w := newSourceWorker(nil, &config.Source{Name: "blog"})

	w.enqueue(TriggerOptions{ChangedPaths: []string{"articles/a.md"}})
	w.enqueue(TriggerOptions{ChangedPaths: []string{"articles/b.md"}})

	opts := w.consume()
	if !opts.Partial || len(opts.ChangedPaths) != 2 {
		t.Fatalf("expected merged scoped options, got %+v", opts)
	}

	// Any full request in the batch widens the run.
	w.enqueue(TriggerOptions{ChangedPaths: []string{"articles/a.md"}})
	w.enqueue(TriggerOptions{})

	opts = w.consume()
	if opts.Partial || len(opts.ChangedPaths) != 0 {
		t.Fatalf("expected full run options, got %+v", opts)
	}

	// A drained queue yields a full run by default.
	if opts = w.consume(); opts.Partial || len(opts.ChangedPaths) != 0 {
		t.Fatalf("expected default full options, got %+v", opts)
	}
}

func testService(t *testing.T, upstream string, mutate ...func(*config.Source)) (*Service, *database.Database) {
	t.Helper()

	db, err := migrations.New().
		WithConfig(&config.Database{SQL: &config.SQLDatabase{Driver: "sqlite", DSN: database.SQLiteMemoryOnlyDSN}}).
		WithMigrate(true).
		Run(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.CloseDB() })

	reference := "master"
	src := &config.Source{
		Name:   "blog",
		Family: config.FamilyArticle,
		Git:    config.Git{Repo: upstream, Reference: &reference},
	}
	for _, f := range mutate {
		f(src)
	}

	root := &config.Root{Sources: map[string]*config.Source{src.Name: src}}
	if err := db.UpsertSource(t.Context(), src); err != nil {
		t.Fatal(err)
	}

	svc := New().
		WithConfig(root).
		WithDatabase(db).
		WithStorage(discardStorage{}).
		WithDataDir(t.TempDir())
	return svc, db
}

// discardStorage accepts uploads and hands back deterministic URLs; asset
// handling is covered in depth by the assets package tests.
type discardStorage struct{}

func (discardStorage) Upload(_ context.Context, _ string, body io.Reader) error {
	_, err := io.Copy(io.Discard, body)
	return err
}

func (discardStorage) URL(key string) string {
	return "https://cdn.test/" + key
}

func article(slug, title string) string {
	return "---\nslug: " + slug + "\ntitle: " + title + "\nrequiredLevel: 1\n---\n\n# " + title + "\n"
}

func newUpstream(t *testing.T) string {
	t.Helper()
	path := t.TempDir()
	if _, err := git.PlainInit(path, false); err != nil {
		t.Fatal(err)
	}
	return path
}

func commitFile(t *testing.T, repoPath, name, content, message string) string {
	t.Helper()

	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		t.Fatal(err)
	}
	w, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}

	full := filepath.Join(repoPath, name)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add(name); err != nil {
		t.Fatal(err)
	}

	hash, err := w.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}
	return hash.String()
}

func removeFile(t *testing.T, repoPath, name, message string) {
	t.Helper()

	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		t.Fatal(err)
	}
	w, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Remove(name); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	}); err != nil {
		t.Fatal(err)
	}
}
