package fixtures

import (
	"context"
	"sync"

	"github.com/DavidKk/tabsync/artifact"
)

// CompilerStub is a test implementation of the artifact.Compiler interface.
type CompilerStub struct {
	CompileFunc func(context.Context, map[string]string) (artifact.Artifact, error)
}

// Compile turns the given sources into a single executable artifact.
//
// The default behavior concatenates the sources in an unspecified order.
func (c *CompilerStub) Compile(
	ctx context.Context,
	files map[string]string,
) (artifact.Artifact, error) {
	if c.CompileFunc != nil {
		return c.CompileFunc(ctx, files)
	}

	var content string
	for _, src := range files {
		content += src
	}

	return artifact.Artifact{
		Files:   files,
		Content: content,
	}, nil
}

// ActivityStub is a test implementation of the devmode.Activity interface.
type ActivityStub struct {
	m       sync.Mutex
	hidden  bool
	changes chan struct{}
}

// NewActivityStub returns a new activity stub that reports the tab as
// active.
func NewActivityStub() *ActivityStub {
	return &ActivityStub{
		changes: make(chan struct{}, 1),
	}
}

// Active returns true if the tab is currently in the foreground.
func (a *ActivityStub) Active() bool {
	a.m.Lock()
	defer a.m.Unlock()

	return !a.hidden
}

// Changes returns a channel that receives a signal on each transition.
func (a *ActivityStub) Changes() <-chan struct{} {
	return a.changes
}

// SetActive changes the foreground state and signals the transition.
func (a *ActivityStub) SetActive(active bool) {
	a.m.Lock()
	a.hidden = !active
	a.m.Unlock()

	a.changes <- struct{}{}
}
