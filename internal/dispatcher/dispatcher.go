// Package dispatcher manages worker fan-out and the idle consensus that
// decides when a pool has run out of work.
package dispatcher

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Runner is one member of a worker pool.
type Runner interface {
	Run(ctx context.Context) error
}

// Dispatcher fans a context out to a pool of runners and joins them.
type Dispatcher struct {
	workers []Runner
}

// New creates a Dispatcher.
func New(workers ...Runner) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Run starts all workers and blocks until every one has returned. The first
// error cancels the context handed to the others.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	return nil
}
