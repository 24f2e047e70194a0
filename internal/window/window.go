// Package window tracks which solutions a node connection is still waiting for.
package window

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultWaitTime is how long an obligation stays open
	DefaultWaitTime = 20 * time.Minute
	// DefaultSweepInterval is how often expired obligations are dropped
	DefaultSweepInterval = time.Second
)

// Config holds window settings
type Config struct {
	WaitTime      time.Duration
	SweepInterval time.Duration
	// Now overrides the clock, mainly for tests
	Now func() time.Time
}

type entry struct {
	height    int64
	target    int64
	createdAt time.Time
}

// Window is a time-bounded set of (height, target) obligations.
// Matched entries stay until they expire, so one obligation can accept several solutions.
type Window struct {
	mu      sync.Mutex
	entries []entry

	waitTime      time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a window; call Open to start the background sweep
func New(config Config) *Window {
	w := &Window{
		waitTime:      config.WaitTime,
		sweepInterval: config.SweepInterval,
		now:           config.Now,
	}
	if w.waitTime <= 0 {
		w.waitTime = DefaultWaitTime
	}
	if w.sweepInterval <= 0 {
		w.sweepInterval = DefaultSweepInterval
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w
}

// Open starts the sweep loop, which runs until Close or ctx ends
func (w *Window) Open(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)

		ticker := time.NewTicker(w.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Sweep()
			}
		}
	}()
}

// Close stops the sweep loop and waits for it to exit
func (w *Window) Close() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait opens an obligation for a solution at height with target at least target
func (w *Window) Wait(height, target int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, entry{height: height, target: target, createdAt: w.now()})
}

// IsWaiting reports whether a live obligation at height accepts target
func (w *Window) IsWaiting(height, target int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for _, e := range w.entries {
		if e.height == height && e.target <= target && !w.expired(e, now) {
			return true
		}
	}
	return false
}

// Sweep drops expired obligations
func (w *Window) Sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	live := w.entries[:0]
	for _, e := range w.entries {
		if !w.expired(e, now) {
			live = append(live, e)
		}
	}
	clear(w.entries[len(live):])
	w.entries = live
}

// Len returns the number of stored obligations, expired or not
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func (w *Window) expired(e entry, now time.Time) bool {
	return now.Sub(e.createdAt) > w.waitTime
}
