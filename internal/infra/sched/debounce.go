package sched

import (
	"context"
	"sync"
	"time"
)

// Debouncer runs a task once its inputs have been quiet for a fixed window.
// Every Trigger restarts the window; Cancel discards any pending run. One
// Debouncer serves one logical task (audio prefetch for a message, title
// refresh for a session).
type Debouncer struct {
	mu    sync.Mutex
	quiet time.Duration
	timer *time.Timer
	gen   int
}

func NewDebouncer(quiet time.Duration) *Debouncer {
	return &Debouncer{quiet: quiet}
}

// Trigger (re)schedules fn to run after the quiet window. A later Trigger or
// a Cancel supersedes it; the superseded run never fires. fn runs on its own
// goroutine with the supplied context.
func (d *Debouncer) Trigger(ctx context.Context, fn func(ctx context.Context)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, func() {
		d.mu.Lock()
		stale := gen != d.gen
		d.mu.Unlock()
		if stale || ctx.Err() != nil {
			return
		}
		fn(ctx)
	})
}

// Cancel discards any pending run without firing it.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
