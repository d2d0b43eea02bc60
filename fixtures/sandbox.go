package fixtures

import (
	"context"
	"sync"

	"github.com/DavidKk/tabsync/sandbox"
)

// Execution is a record of one call to an EvaluatorStub.
type Execution struct {
	// Body is the artifact body that was evaluated.
	Body string

	// Scope is the capability set the body was evaluated against.
	Scope map[string]sandbox.Capability
}

// EvaluatorStub is a test implementation of the sandbox.Evaluator interface.
//
// It records every evaluation it performs.
type EvaluatorStub struct {
	EvaluateFunc func(context.Context, string, map[string]sandbox.Capability) error

	m          sync.Mutex
	executions []Execution
}

// Evaluate runs body.
func (e *EvaluatorStub) Evaluate(
	ctx context.Context,
	body string,
	scope map[string]sandbox.Capability,
) error {
	e.m.Lock()
	e.executions = append(e.executions, Execution{body, scope})
	e.m.Unlock()

	if e.EvaluateFunc != nil {
		return e.EvaluateFunc(ctx, body, scope)
	}

	return nil
}

// Executions returns a record of every evaluation performed so far.
func (e *EvaluatorStub) Executions() []Execution {
	e.m.Lock()
	defer e.m.Unlock()

	return append([]Execution(nil), e.executions...)
}
