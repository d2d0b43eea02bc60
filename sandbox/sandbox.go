// Package sandbox executes artifact bodies against an explicit capability
// set, isolated from the ambient update logic of the hosting tab.
package sandbox

import (
	"context"
	"sync"

	"github.com/DavidKk/tabsync/artifact"
	"github.com/DavidKk/tabsync/semaphore"
	"github.com/dogmatiq/dodeca/logging"
)

// Capability is a named callable injected into the sandboxed scope.
type Capability func(args ...interface{}) (interface{}, error)

// ReentrancyCapability is the name of the capability injected into every
// scope that reports whether an execution is already in progress.
//
// Executed artifacts can call it to avoid re-triggering the very update logic
// that executed them.
const ReentrancyCapability = "__tabsync_active__"

// Evaluator runs an artifact body within a scope.
//
// The underlying script runtime is an external collaborator; the sandbox
// only depends on this contract.
type Evaluator interface {
	// Evaluate runs body. Nothing outside scope is reachable from the
	// evaluated code.
	Evaluate(ctx context.Context, body string, scope map[string]Capability) error
}

var (
	m      sync.Mutex
	active bool
)

// Active returns true while an artifact execution is in progress anywhere in
// the process.
func Active() bool {
	m.Lock()
	defer m.Unlock()

	return active
}

// swap sets the re-entrancy flag and returns its previous value.
func swap(v bool) bool {
	m.Lock()
	defer m.Unlock()

	prev := active
	active = v

	return prev
}

// Sandbox executes artifact bodies.
type Sandbox struct {
	// Evaluator is the runtime that evaluates artifact bodies.
	Evaluator Evaluator

	// Semaphore limits the number of artifacts executing concurrently.
	// The zero-value imposes no limit.
	Semaphore semaphore.Semaphore

	// Logger is the target for log messages about executions.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger
}

// Execute runs an artifact body against the given capability set.
//
// The scope seeded into the evaluator contains exactly the supplied
// capabilities plus the re-entrancy marker. The process-wide re-entrancy flag
// is set for the duration of the execution and restored to its previous value
// afterward, so nested executions do not corrupt it.
//
// Errors produced by the artifact are returned as *artifact.ExecutionError;
// callers decide whether to surface or swallow them.
func (s *Sandbox) Execute(
	ctx context.Context,
	body string,
	caps map[string]Capability,
) error {
	if s.Evaluator == nil {
		panic("no evaluator is configured")
	}

	if err := s.Semaphore.Acquire(ctx); err != nil {
		return err
	}
	defer s.Semaphore.Release()

	scope := make(map[string]Capability, len(caps)+1)
	for n, c := range caps {
		scope[n] = c
	}

	scope[ReentrancyCapability] = func(...interface{}) (interface{}, error) {
		return Active(), nil
	}

	prev := swap(true)
	defer swap(prev)

	logging.Debug(
		s.Logger,
		"executing artifact (%d bytes, %d capabilities)",
		len(body),
		len(scope),
	)

	if err := s.Evaluator.Evaluate(ctx, body, scope); err != nil {
		return &artifact.ExecutionError{Cause: err}
	}

	return nil
}
