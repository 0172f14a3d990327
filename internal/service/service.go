// Package service orchestrates sync runs: it owns the per-source worktrees,
// the advisory run locks, the run ledger, and the worker pool that executes
// scheduled and webhook-triggered syncs.
package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/memberhq/contentsync/internal/config"
	"github.com/memberhq/contentsync/internal/database"
	"github.com/memberhq/contentsync/internal/githubapp"
	"github.com/memberhq/contentsync/internal/logging"
	"github.com/memberhq/contentsync/internal/pool"
	"github.com/memberhq/contentsync/internal/s3"
)

var (
	// ErrSyncInProgress reports that a run for the source is already active.
	// Callers decide how to surface it; a webhook trigger treats it as
	// success, the manual API maps it to a conflict.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrUnknownSource reports a trigger for a source not in the
	// configuration.
	ErrUnknownSource = errors.New("unknown source")

	defaultResyncInterval = time.Hour
	errorInterval         = 5 * time.Minute
	defaultRunTimeout     = 10 * time.Minute
	defaultWorkers        = 2
)

// Service owns the sync pipeline: it keeps a worktree per source under the
// data directory, schedules periodic full runs through the worker pool, and
// executes runs triggered by webhooks or the management API.
type Service struct {
	config   *config.Root
	db       *database.Database
	storage  s3.ObjectStorage
	broker   *githubapp.Broker
	registry *registry
	pool     *pool.Pool
	workers  map[string]*sourceWorker
	log      *logging.Logger
	dataDir  string
}

func New() *Service {
	return &Service{
		registry: newRegistry(),
		broker:   githubapp.New(),
		workers:  make(map[string]*sourceWorker),
		log:      logging.NewNopLogger(),
	}
}

func (s *Service) WithConfig(config *config.Root) *Service {
	s.config = config
	return s
}

func (s *Service) WithDatabase(db *database.Database) *Service {
	s.db = db
	return s
}

func (s *Service) WithStorage(storage s3.ObjectStorage) *Service {
	s.storage = storage
	return s
}

func (s *Service) WithLogger(log *logging.Logger) *Service {
	s.log = log
	return s
}

// WithDataDir sets the directory git worktrees are checked out under, one
// subdirectory per source.
func (s *Service) WithDataDir(dir string) *Service {
	s.dataDir = dir
	return s
}

// Init registers the configured sources in the database, constructs object
// storage if configured, and starts the worker pool with one periodic
// full-resync worker per source.
func (s *Service) Init(ctx context.Context) error {
	for _, src := range s.config.Sources {
		if err := s.db.UpsertSource(ctx, src); err != nil {
			return fmt.Errorf("register source %q: %w", src.Name, err)
		}
	}

	if s.storage == nil && s.config.Storage != nil {
		storage, err := s3.New(ctx, *s.config.Storage)
		if err != nil {
			return err
		}
		s.storage = storage
	}

	workers := defaultWorkers
	if s.config.Service != nil && s.config.Service.Workers > 0 {
		workers = s.config.Service.Workers
	}
	s.pool = pool.New(workers)

	for _, src := range s.config.Sources {
		w := newSourceWorker(s, src)
		s.workers[src.Name] = w
		s.pool.Add(src.Name, w.Execute)
	}

	return nil
}

// TriggerOptions narrow a run down to a webhook delivery's changed paths.
// The zero value requests a full run.
type TriggerOptions struct {
	// ChangedPaths are repository-relative paths from the push event. A
	// partial run parses only the content they map to and skips
	// reconciliation.
	ChangedPaths []string
	// Partial marks the run as webhook-scoped even when every changed path
	// falls outside the content root. Such a run parses nothing instead of
	// degrading into a full resync.
	Partial bool
}

// Trigger executes a sync run for the named source, returning the finalized
// ledger entry. It returns ErrSyncInProgress without side effects when a run
// for the source is already active.
func (s *Service) Trigger(ctx context.Context, sourceName string, opts TriggerOptions) (*database.Run, error) {
	src, ok := s.config.Sources[sourceName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, sourceName)
	}

	if !s.registry.acquire(sourceName) {
		return nil, ErrSyncInProgress
	}
	defer s.registry.release(sourceName)

	return s.run(ctx, src, opts)
}

// TriggerBackground creates the ledger entry synchronously and executes the
// rest of the run detached from the caller's context. The returned snapshot
// carries the run ID while the run is still in the running state. Used by
// the manual sync API so the response can point at the run immediately.
func (s *Service) TriggerBackground(ctx context.Context, sourceName string, opts TriggerOptions) (*database.Run, error) {
	src, ok := s.config.Sources[sourceName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, sourceName)
	}

	if !s.registry.acquire(sourceName) {
		return nil, ErrSyncInProgress
	}

	run, err := s.begin(ctx, src, opts)
	if err != nil {
		s.registry.release(sourceName)
		return nil, err
	}
	snapshot := *run

	go func() {
		defer s.registry.release(sourceName)
		if err := s.complete(context.WithoutCancel(ctx), src, opts, run); err != nil {
			s.log.Errorf("background sync run %s for source %q: %v", run.ID, sourceName, err)
		}
	}()

	return &snapshot, nil
}

// TriggerAsync hands the run to the deadline pool: an idle worker executes
// immediately, an executing one reruns when it finishes. Lock contention is
// absorbed by the rerun, never reported to the caller.
func (s *Service) TriggerAsync(sourceName string, opts TriggerOptions) error {
	w, ok := s.workers[sourceName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, sourceName)
	}

	w.enqueue(opts)
	return s.pool.Trigger(sourceName)
}

// SyncAll runs a full sync for every configured source. Distinct sources run
// in parallel; a source already mid-run is skipped rather than failed.
func (s *Service) SyncAll(ctx context.Context) error {
	var group errgroup.Group

	for _, src := range s.config.SortedSources() {
		group.Go(func() error {
			_, err := s.Trigger(ctx, src.Name, TriggerOptions{})
			if errors.Is(err, ErrSyncInProgress) {
				return nil
			}
			return err
		})
	}

	return group.Wait()
}

func (s *Service) runTimeout() time.Duration {
	if s.config.Service != nil && time.Duration(s.config.Service.RunTimeout) > 0 {
		return time.Duration(s.config.Service.RunTimeout)
	}
	return defaultRunTimeout
}

func resyncInterval(src *config.Source) time.Duration {
	return cmp.Or(time.Duration(src.ResyncInterval), defaultResyncInterval)
}
