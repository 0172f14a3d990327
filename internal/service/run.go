package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memberhq/contentsync/internal/assets"
	"github.com/memberhq/contentsync/internal/config"
	"github.com/memberhq/contentsync/internal/database"
	csyncfs "github.com/memberhq/contentsync/internal/fs"
	"github.com/memberhq/contentsync/internal/gitsync"
	"github.com/memberhq/contentsync/internal/metrics"
	"github.com/memberhq/contentsync/internal/parser"
)

// run executes one sync run end to end. The caller holds the source's
// registry slot. The returned error covers ledger bookkeeping failures only;
// a run that fails on fetch or parsing is reported through the returned
// Run's status and error list.
func (s *Service) run(ctx context.Context, src *config.Source, opts TriggerOptions) (*database.Run, error) {
	run, err := s.begin(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	return run, s.complete(ctx, src, opts, run)
}

// begin creates the ledger entry in the running state.
func (s *Service) begin(ctx context.Context, src *config.Source, opts TriggerOptions) (*database.Run, error) {
	run := &database.Run{
		ID:         uuid.NewString(),
		SourceName: src.Name,
		Partial:    opts.Partial || len(opts.ChangedPaths) > 0,
		StartedAt:  time.Now().UTC(),
		Status:     database.RunStatusRunning,
	}
	if err := s.db.InsertRun(ctx, run); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// complete executes the pipeline under the run's wall-clock budget and
// finalizes the ledger entry.
func (s *Service) complete(ctx context.Context, src *config.Source, opts TriggerOptions, run *database.Run) error {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout())
	defer cancel()

	if err := s.execute(runCtx, src, opts, run); err != nil {
		run.Status = database.RunStatusFailed
		run.Errors = append(run.Errors, database.RunError{Message: s.fatalMessage(runCtx, err)})
		metrics.SyncRunFailed(src.Name)
		s.log.Errorf("sync run %s for source %q failed: %v", run.ID, src.Name, err)
	}

	return s.finalize(ctx, src, run)
}

// execute sequences fetch, parse, asset resolution, upsert and
// reconciliation. Any returned error is fatal and marks the run failed;
// per-item failures are accumulated on the run instead.
func (s *Service) execute(ctx context.Context, src *config.Source, opts TriggerOptions, run *database.Run) error {
	sync := gitsync.New(filepath.Join(s.dataDir, src.Name), src.Git, src.Name).
		WithBroker(s.broker).
		WithLogger(s.log)

	commit, err := sync.Execute(ctx)
	if err != nil {
		return err
	}
	run.Commit = commit

	items, seenPaths, err := s.parse(src, opts, sync.Path(), run)
	if err != nil {
		return err
	}

	fsys := os.DirFS(sync.Path())
	pipeline := assets.New(s.db, s.storage, src.Git.RepoName()).WithLogger(s.log)

	for _, item := range items {
		for _, uerr := range pipeline.Resolve(ctx, fsys, item) {
			run.Errors = append(run.Errors, database.RunError{Path: uerr.Path, Message: uerr.Error()})
		}

		record := contentRecord(item, src.Git.RepoName(), commit)
		outcome, err := s.db.UpsertContent(ctx, record)
		if err != nil {
			run.Errors = append(run.Errors, database.RunError{Path: item.Path, Message: err.Error()})
			continue
		}

		switch outcome {
		case database.UpsertCreated:
			run.ItemsCreated++
		case database.UpsertUpdated:
			run.ItemsUpdated++
		}
		metrics.SyncRunItems(src.Name, outcome.String(), 1)
	}

	if !run.Partial {
		deleted, err := s.db.ReconcileContent(ctx, src.Git.RepoName(), seenPaths)
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		run.ItemsDeleted = deleted
		metrics.SyncRunItems(src.Name, "deleted", deleted)
	}

	if len(run.Errors) > 0 {
		run.Status = database.RunStatusPartial
		metrics.SyncRunItems(src.Name, "errored", len(run.Errors))
	} else {
		run.Status = database.RunStatusSuccess
	}
	return nil
}

// parse walks the checked-out tree with the family's strategy. Malformed
// files land on the run's error list but still count as seen, so a parse
// error never withdraws previously synced content.
func (s *Service) parse(src *config.Source, opts TriggerOptions, dir string, run *database.Run) ([]*parser.Item, []string, error) {
	scope, empty := translateScope(src.Git, opts)
	if run.Partial && empty {
		// Nothing in the push touched the content root. The run stays
		// scoped and parses nothing rather than widening into a full
		// resync.
		return nil, nil, nil
	}

	p, err := parser.ForFamily(src.Family)
	if err != nil {
		return nil, nil, err
	}

	fsys, err := contentFS(dir, src.Git)
	if err != nil {
		return nil, nil, err
	}

	items, malformed, err := p.Parse(fsys, scope)
	if err != nil {
		return nil, nil, fmt.Errorf("parse content: %w", err)
	}

	seenPaths := make([]string, 0, len(items)+len(malformed))
	for _, item := range items {
		seenPaths = append(seenPaths, item.Path)
	}
	for _, merr := range malformed {
		run.Errors = append(run.Errors, database.RunError{Path: merr.Path, Message: merr.Reason})
		seenPaths = append(seenPaths, merr.Path)
	}
	return items, seenPaths, nil
}

func contentFS(dir string, git config.Git) (fs.FS, error) {
	base := os.DirFS(dir)
	if len(git.IncludedFiles) == 0 && len(git.ExcludedFiles) == 0 {
		return base, nil
	}
	return csyncfs.NewFilterFS(base, git.IncludedFiles, git.ExcludedFiles)
}

// translateScope maps repository-relative changed paths to content-root
// relative ones. Paths outside the content root are dropped; empty reports
// whether nothing remained.
func translateScope(git config.Git, opts TriggerOptions) (scope parser.Scope, empty bool) {
	if !opts.Partial && len(opts.ChangedPaths) == 0 {
		return nil, false
	}

	root := ""
	if git.Path != nil {
		root = path.Clean(*git.Path)
	}

	var translated []string
	for _, p := range opts.ChangedPaths {
		p = path.Clean(p)
		if root != "" && root != "." {
			rel, ok := strings.CutPrefix(p, root+"/")
			if !ok {
				continue
			}
			p = rel
		}
		translated = append(translated, p)
	}

	return parser.NewScope(translated), len(translated) == 0
}

// finalize writes the terminal ledger state and the source status line. It
// runs detached from the run deadline so a timed-out run is still recorded.
func (s *Service) finalize(ctx context.Context, src *config.Source, run *database.Run) error {
	ctx = context.WithoutCancel(ctx)

	if err := s.db.FinalizeRun(ctx, run); err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}

	summary := fmt.Sprintf("created %d, updated %d, deleted %d, errors %d",
		run.ItemsCreated, run.ItemsUpdated, run.ItemsDeleted, len(run.Errors))
	if err := s.db.UpdateSourceSyncStatus(ctx, src.Name, time.Now().UTC(), run.Status, summary); err != nil {
		return fmt.Errorf("update source status: %w", err)
	}

	metrics.SyncRunFinished(src.Name, run.Status, run.StartedAt)
	s.log.Infof("sync run %s for source %q finished: %s (%s)", run.ID, src.Name, run.Status, summary)
	return nil
}

func (s *Service) fatalMessage(ctx context.Context, err error) string {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("run timed out after %s: %v", s.runTimeout(), err)
	}
	return err.Error()
}

// contentRecord converts a parsed item into its database row, stamping
// provenance and the content hash change detection relies on.
func contentRecord(item *parser.Item, sourceRepo, commit string) *database.ContentItem {
	record := &database.ContentItem{
		Family:        item.Family.String(),
		Slug:          item.Slug,
		Title:         item.Title,
		Body:          item.Body,
		RequiredLevel: item.RequiredLevel,
		Tags:          item.Tags,
		Fields:        item.Fields,
		SourceRepo:    &sourceRepo,
		SourcePath:    &item.Path,
		SourceCommit:  &commit,
	}
	if item.CoverImage != "" {
		record.CoverImageURL = &item.CoverImage
	}
	record.ContentHash = contentHash(record)
	return record
}

// contentHash is a digest over the fields a sync run controls. The commit
// SHA stays out: a new commit that leaves a file untouched must hash
// identically, that is what makes re-runs no-ops.
func contentHash(record *database.ContentItem) string {
	cover := ""
	if record.CoverImageURL != nil {
		cover = *record.CoverImageURL
	}

	normalized, _ := json.Marshal(map[string]any{
		"family":        record.Family,
		"slug":          record.Slug,
		"title":         record.Title,
		"body":          record.Body,
		"requiredLevel": record.RequiredLevel,
		"tags":          record.Tags,
		"fields":        record.Fields,
		"coverImage":    cover,
	})
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:])
}
