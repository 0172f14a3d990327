package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/memberhq/contentsync/internal/config"
	"github.com/memberhq/contentsync/internal/database"
)

// sourceWorker is the pool task for one source. Left alone it performs a
// full resync on the source's interval; webhook deliveries enqueue scoped
// options and pull the deadline forward through pool.Trigger.
type sourceWorker struct {
	service *Service
	source  *config.Source

	mu      sync.Mutex
	pending []TriggerOptions
}

func newSourceWorker(service *Service, source *config.Source) *sourceWorker {
	return &sourceWorker{service: service, source: source}
}

// enqueue stages trigger options for the next execution. Options delivered
// while a run executes are consumed by the pool's rerun.
func (w *sourceWorker) enqueue(opts TriggerOptions) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, opts)
}

// Execute runs one sync and returns the deadline for the next. A run that
// failed or could not get the source's slot retries sooner than the regular
// resync interval.
func (w *sourceWorker) Execute(ctx context.Context) time.Time {
	opts := w.consume()

	run, err := w.service.Trigger(ctx, w.source.Name, opts)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		// A manual trigger holds the slot. Requeue whatever scope this
		// execution consumed and try again shortly.
		w.requeue(opts)
		return time.Now().Add(errorInterval)
	case err != nil:
		w.service.log.Errorf("scheduled sync for source %q: %v", w.source.Name, err)
		return time.Now().Add(errorInterval)
	}

	if run.Status == database.RunStatusFailed {
		return time.Now().Add(errorInterval)
	}
	return time.Now().Add(resyncInterval(w.source))
}

// consume drains the staged options into the options for this execution.
// Multiple webhook deliveries coalesce into one scoped run; any full request
// in the batch widens it to a full run.
func (w *sourceWorker) consume() TriggerOptions {
	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(pending) == 0 {
		return TriggerOptions{}
	}

	merged := TriggerOptions{Partial: true}
	for _, opts := range pending {
		if !opts.Partial && len(opts.ChangedPaths) == 0 {
			return TriggerOptions{}
		}
		merged.ChangedPaths = append(merged.ChangedPaths, opts.ChangedPaths...)
	}
	return merged
}

func (w *sourceWorker) requeue(opts TriggerOptions) {
	if !opts.Partial && len(opts.ChangedPaths) == 0 {
		return
	}
	w.mu.Lock()
	w.pending = append([]TriggerOptions{opts}, w.pending...)
	w.mu.Unlock()
}
