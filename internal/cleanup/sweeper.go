// Package cleanup periodically removes expired action tokens and one-time codes.
package cleanup

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// PurgeFunc removes records that expired at or before now and returns how many were removed.
type PurgeFunc func(ctx context.Context, now time.Time) (int64, error)

// Task is one named purge run on every sweep.
type Task struct {
	Name  string
	Purge PurgeFunc
}

// Sweeper runs its tasks concurrently on a fixed interval.
type Sweeper struct {
	tasks []Task
	now   func() time.Time
}

// NewSweeper returns a Sweeper over tasks. Tasks with a nil Purge are dropped.
func NewSweeper(tasks ...Task) *Sweeper {
	kept := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Purge != nil {
			kept = append(kept, t)
		}
	}
	return &Sweeper{tasks: kept, now: time.Now}
}

// Sweep runs every task once with the same cutoff. All tasks run even if one fails; the first
// error is returned.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.now().UTC()
	var g errgroup.Group
	for _, t := range s.tasks {
		g.Go(func() error {
			n, err := t.Purge(ctx, now)
			if err != nil {
				return fmt.Errorf("%s: %w", t.Name, err)
			}
			if n > 0 {
				log.Printf("cleanup: %s removed %d", t.Name, n)
			}
			return nil
		})
	}
	return g.Wait()
}

// Run sweeps immediately and then every interval until ctx is done. Sweep errors are logged.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("cleanup: interval must be positive, got %v", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			log.Printf("cleanup: sweep failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
