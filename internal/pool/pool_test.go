package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool(t *testing.T) {
	p := New(2)

	p.Add("a", func(context.Context) time.Time {
		return time.Now().Add(100 * time.Millisecond)
	})

	p.Add("b", func(context.Context) time.Time {
		return time.Now().Add(-100 * time.Millisecond)
	})

	p.Add("c", func(context.Context) time.Time {
		return time.Now().Add(200 * time.Millisecond)
	})

	// Give the workers time to process; a deadlock would hang here forever.
	time.Sleep(300 * time.Millisecond)
}

type run struct {
	left     atomic.Int32
	ran      atomic.Int32
	sleep    time.Duration
	deadline time.Duration
}

func (t *run) Execute(context.Context) time.Time {
	if t.left.Load() > 0 {
		time.Sleep(t.sleep)
		t.left.Add(-1)
		t.ran.Add(1)
		return time.Now().Add(t.deadline)
	}

	var zero time.Time
	return zero // remove task from the pool
}

func TestTrigger(t *testing.T) {
	t.Run("trigger pulls queued task forward", func(t *testing.T) {
		p := New(2)

		rx := &run{deadline: 200 * time.Millisecond}
		rx.left.Store(3)

		p.Add("t", rx.Execute) // runs once, then queued for 200 ms

		_ = p.Trigger("t") // pulled in front, run #2
		time.Sleep(50 * time.Millisecond)
		_ = p.Trigger("t")                 // pulled in front, run #3
		time.Sleep(300 * time.Millisecond) // no other runs, task removed

		if exp, act := int32(3), rx.ran.Load(); exp != act {
			t.Errorf("expected counter of %d, got %d", exp, act)
		}
	})

	t.Run("trigger reruns executing task right away", func(t *testing.T) {
		p := New(2)

		// Without the trigger there would be no second run within the test:
		// the next deadline is a second out.
		rx := &run{sleep: 100 * time.Millisecond, deadline: time.Second}
		rx.left.Store(3)

		p.Add("t", rx.Execute)
		time.Sleep(50 * time.Millisecond)
		_ = p.Trigger("t") // re-run after the current run finishes

		time.Sleep(300 * time.Millisecond)

		if exp, act := int32(2), rx.ran.Load(); exp != act {
			t.Errorf("expected counter of %d, got %d", exp, act)
		}
	})

	t.Run("trigger of unknown task errors", func(t *testing.T) {
		p := New(1)
		if err := p.Trigger("nope"); err == nil {
			t.Fatal("expected error")
		}
	})
}
