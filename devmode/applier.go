// Package devmode distributes artifacts produced by a local development
// loop, reusing the same store, lease and bus machinery as remote rollouts.
//
// Unlike a rollout there is no validate/download split: the compiled body is
// attached directly to the shared record by whichever tab produced it, and a
// compilation failure simply suppresses the write, leaving the previous
// record and the previously running artifact untouched.
package devmode

import (
	"context"
	"sync"

	"github.com/DavidKk/tabsync/identity"
	"github.com/DavidKk/tabsync/persistence"
	"github.com/DavidKk/tabsync/sandbox"
	"github.com/dogmatiq/dodeca/logging"
)

// Applier consumes dev-mode distribution records for a namespace and
// executes each new artifact in the sandbox.
//
// Every tab runs an applier, including the tab that produced the artifact;
// the originating tab re-executes its own output the same way.
type Applier struct {
	// Namespace is the namespace to consume records for.
	Namespace string

	// TabID is the identity of the tab this applier acts for.
	TabID identity.TabID

	// Store is the durable store carrying the distribution records.
	Store persistence.Store

	// Sandbox executes artifact bodies.
	Sandbox *sandbox.Sandbox

	// Capabilities is the allow-list of callables reachable from executed
	// artifacts.
	Capabilities map[string]sandbox.Capability

	// Activity reports whether the tab is in the foreground.
	// If it is nil, AlwaysActive is used.
	Activity Activity

	// Logger is the target for log messages about applied artifacts.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	m       sync.Mutex
	applied int64
}

// Run consumes distribution records until ctx is canceled.
//
// If the tab is backgrounded when a new artifact arrives, application is
// deferred until the tab becomes active again; only the most recent deferred
// artifact is applied.
func (a *Applier) Run(ctx context.Context) error {
	key := persistence.RecordKey(a.Namespace)

	// Seed the applied version from the current record so a freshly opened
	// tab does not re-execute an artifact it already runs.
	if rec, ok, err := a.Store.Get(ctx, key); err != nil {
		return err
	} else if ok {
		a.markApplied(rec.LastModified)
	}

	changes := make(chan persistence.Record)

	sub, err := a.Store.Subscribe(
		key,
		func(_, next persistence.Record) {
			select {
			case changes <- next:
			case <-ctx.Done():
			}
		},
	)
	if err != nil {
		return err
	}
	defer sub.Close()

	var pending *persistence.Record

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec := <-changes:
			if rec.LastModified <= a.lastApplied() {
				continue
			}

			a.markApplied(rec.LastModified)

			if rec.CompiledContent == "" {
				continue
			}

			if a.activity().Active() {
				a.execute(ctx, rec)
				pending = nil
			} else {
				logging.Debug(
					a.Logger,
					"[%s] tab is backgrounded, deferring artifact %d",
					a.Namespace,
					rec.LastModified,
				)

				rec := rec
				pending = &rec
			}

		case <-a.activity().Changes():
			if pending != nil && a.activity().Active() {
				a.execute(ctx, *pending)
				pending = nil
			}
		}
	}
}

func (a *Applier) execute(ctx context.Context, rec persistence.Record) {
	logging.Log(
		a.Logger,
		"[%s] applying artifact %d from %s",
		a.Namespace,
		rec.LastModified,
		rec.Host,
	)

	if err := a.Sandbox.Execute(ctx, rec.CompiledContent, a.Capabilities); err != nil {
		logging.Log(
			a.Logger,
			"[%s] %s",
			a.Namespace,
			err,
		)
	}
}

func (a *Applier) activity() Activity {
	if a.Activity != nil {
		return a.Activity
	}

	return AlwaysActive
}

func (a *Applier) markApplied(v int64) {
	a.m.Lock()
	defer a.m.Unlock()

	if v > a.applied {
		a.applied = v
	}
}

func (a *Applier) lastApplied() int64 {
	a.m.Lock()
	defer a.m.Unlock()

	return a.applied
}
