// Package pool schedules recurring source syncs on a fixed set of worker
// goroutines. Each task returns the time it next wants to run; returning the
// zero time removes it from the pool.
package pool

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Pool executes tasks in order of their deadlines. Tasks with earlier
// deadlines run before those with later deadlines. Adding a task while a
// worker is waiting wakes the worker so an earlier deadline is honored
// immediately.
type Pool struct {
	mu    sync.Mutex
	queue []*task
	reg   map[string]*task
	wait  chan struct{}
}

type task struct {
	name     string
	fn       func(context.Context) time.Time
	deadline time.Time
	rerun    bool
}

func New(workers int) *Pool {
	pool := Pool{reg: make(map[string]*task)}

	for range workers {
		go pool.work()
	}

	return &pool
}

// Add registers a task under the given name with an immediate deadline.
func (p *Pool) Add(name string, fn func(context.Context) time.Time) {
	p.enqueue(&task{name: name, fn: fn, deadline: time.Now()})
}

func (p *Pool) work() {
	for {
		t := p.dequeue()
		p.finish(t, t.fn(context.Background()))
	}
}

// finish records the task's next deadline and requeues it. Trigger may flag
// the task for a rerun while it executes, so the flag and the deadline are
// only touched under the lock.
func (p *Pool) finish(t *task, deadline time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t.deadline = deadline
	if t.rerun {
		t.rerun = false
		t.deadline = time.Now()
	}

	if t.deadline.IsZero() {
		// Task requested removal from the pool.
		delete(p.reg, t.name)
		return
	}

	p.reg[t.name] = t
	p.queue = append(p.queue, t)
	p.sortAndWake()
}

// Trigger runs the named task now, regardless of its deadline. If the task
// is queued it is pulled to the front. If it is not queued it must be
// running, so its next deadline is overridden to now, causing an immediate
// re-run after the current one finishes.
func (p *Pool) Trigger(n string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i := slices.IndexFunc(p.queue, func(t *task) bool { return t.name == n }); i != -1 {
		p.queue[i].deadline = time.Now()
		p.sortAndWake()
		return nil
	}
	if t, ok := p.reg[n]; ok {
		t.rerun = true
		return nil
	}

	return fmt.Errorf("no task with name %s", n)
}

// sortAndWake must be called with p.mu held.
func (p *Pool) sortAndWake() {
	slices.SortFunc(p.queue, func(a, b *task) int {
		return a.deadline.Compare(b.deadline)
	})

	if p.wait != nil {
		close(p.wait)
		p.wait = nil
	}
}

func (p *Pool) enqueue(t *task) {
	p.mu.Lock()
	p.reg[t.name] = t
	p.queue = append(p.queue, t)
	p.sortAndWake()
	p.mu.Unlock()
}

func (p *Pool) dequeue() *task {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		var next time.Time
		if len(p.queue) == 0 {
			// Nothing queued, sleep until woken by a new task.
			next = time.Now().Add(24 * 365 * time.Hour)
		} else {
			next = p.queue[0].deadline
		}

		if !next.After(time.Now()) {
			break
		}

		if p.wait == nil {
			p.wait = make(chan struct{})
		}
		wait := p.wait

		p.mu.Unlock()
		select {
		case <-time.After(time.Until(next)):
		case <-wait:
		}
		p.mu.Lock()
	}

	var t *task
	t, p.queue = p.queue[0], p.queue[1:]
	return t
}
