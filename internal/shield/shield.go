// Package shield arbitrates which jobs reach a single worker connection.
package shield

import "context"

// Shield admits a job only if its height is above every height already
// dispatched on the connection. One Shield belongs to one connection.
type Shield struct {
	sem    chan struct{}
	height int64
	set    bool
}

// New creates a shield with no dispatched height
func New() *Shield {
	return &Shield{sem: make(chan struct{}, 1)}
}

// EnsurePriority runs fn under the shield's lock with shouldProcess set when
// height beats the last dispatched one. The lock covers all of fn, including
// any send it performs, and is released on every exit path.
func (s *Shield) EnsurePriority(ctx context.Context, height int64, fn func(shouldProcess bool) error) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	return fn(!s.set || s.height < height)
}

// StorePriority records height as dispatched. Call it from inside the
// EnsurePriority callback, and only after the job actually reached the worker.
func (s *Shield) StorePriority(height int64) {
	s.height = height
	s.set = true
}
