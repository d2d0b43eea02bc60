// Package semaphore limits the number of artifact executions that occur
// concurrently.
package semaphore

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Semaphore limits the number of artifacts that can be executed concurrently.
//
// The zero-value imposes no limit.
type Semaphore struct {
	sem *semaphore.Weighted
}

// New returns a semaphore that allows n concurrent executions.
func New(n int) Semaphore {
	return Semaphore{
		semaphore.NewWeighted(int64(n)),
	}
}

// Acquire blocks until it is ok for the caller to execute an artifact, or
// until ctx is canceled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if s.sem == nil {
		return nil
	}

	return s.sem.Acquire(ctx, 1)
}

// Release signals that an execution has completed.
func (s *Semaphore) Release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}
