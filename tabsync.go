// Package tabsync coordinates the tabs of an installed script so they agree
// on which tab is authoritative for a namespace, and so newly produced
// artifacts are validated, propagated and executed consistently across every
// tab without leaving any tab in a half-updated state.
//
// The durable store is the single source of truth; the ephemeral bus only
// shortens perceived latency. There is no true mutual exclusion: the protocol
// tolerates brief split-brain by relying on idempotent re-execution rather
// than strict exclusion, and guarantees effectively-once execution per
// version rather than exactly-once.
package tabsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DavidKk/tabsync/artifact"
	"github.com/DavidKk/tabsync/devmode"
	"github.com/DavidKk/tabsync/devmode/editor"
	"github.com/DavidKk/tabsync/devmode/localfs"
	"github.com/DavidKk/tabsync/lease"
	"github.com/DavidKk/tabsync/rollout"
	"github.com/DavidKk/tabsync/sandbox"
	"github.com/DavidKk/tabsync/semaphore"
	"github.com/dogmatiq/linger"
	"golang.org/x/sync/errgroup"
)

// Coordinator hosts the coordination protocol for one tab.
//
// It maintains an explicit registry of namespaces; each namespace is
// constructed exactly once, independent of the order call sites reach it.
type Coordinator struct {
	opts    *coordinatorOptions
	fetcher *artifact.Fetcher
	sandbox *sandbox.Sandbox

	m          sync.Mutex
	namespaces map[string]*Namespace
	group      *errgroup.Group
	groupCtx   context.Context
}

// New returns a new coordinator acting for this tab.
func New(options ...Option) *Coordinator {
	opts := resolveOptions(options...)

	c := &Coordinator{
		opts: opts,
		fetcher: &artifact.Fetcher{
			Client: opts.HTTPClient,
			Logger: opts.Logger,
		},
		sandbox: &sandbox.Sandbox{
			Evaluator: opts.Evaluator,
			Semaphore: semaphore.New(opts.ExecutionLimit),
			Logger:    opts.Logger,
		},
		namespaces: map[string]*Namespace{},
	}

	for _, nsopts := range opts.Namespaces {
		c.register(nsopts)
	}

	return c
}

// Namespace returns the coordination handle for the given namespace,
// constructing it on first use.
func (c *Coordinator) Namespace(name string, options ...NamespaceOption) *Namespace {
	c.m.Lock()
	if ns, ok := c.namespaces[name]; ok {
		c.m.Unlock()
		return ns
	}
	c.m.Unlock()

	return c.register(
		resolveNamespaceOptions(name, options...),
	)
}

// Run executes the follower loops of every registered namespace until ctx is
// canceled or an error occurs.
//
// Namespaces registered while Run is executing have their loops started
// immediately, so registration order and Run are independent.
//
// Any lease still held by this tab is released, best-effort, before Run
// returns; a tab killed abruptly relies on the lease TTL instead.
func (c *Coordinator) Run(ctx context.Context) error {
	parent := ctx
	g, ctx := errgroup.WithContext(ctx)

	c.m.Lock()
	c.group = g
	c.groupCtx = ctx

	for _, ns := range c.namespaces {
		c.start(ns)
	}
	c.m.Unlock()

	err := g.Wait()

	c.m.Lock()
	c.group = nil
	c.groupCtx = nil

	namespaces := make([]*Namespace, 0, len(c.namespaces))
	for _, ns := range c.namespaces {
		namespaces = append(namespaces, ns)
	}
	c.m.Unlock()

	c.releaseLeases(namespaces)

	if parent.Err() != nil {
		return parent.Err()
	}

	return err
}

// start launches the loops of a single namespace within the running group.
//
// The caller must hold c.m.
func (c *Coordinator) start(ns *Namespace) {
	g, ctx := c.group, c.groupCtx

	g.Go(func() error {
		return ns.lease.Run(ctx)
	})

	g.Go(func() error {
		return ns.distributor.Run(ctx)
	})

	g.Go(func() error {
		return ns.applier.Run(ctx)
	})

	if ns.watcher != nil {
		g.Go(func() error {
			return ns.watcher.Run(ctx)
		})
	}

	if ns.editorFollower != nil {
		g.Go(func() error {
			return ns.editorFollower.Run(ctx)
		})
	}
}

// releaseLeases vacates any lease still held by this tab.
func (c *Coordinator) releaseLeases(namespaces []*Namespace) {
	ctx, cancel := linger.ContextWithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	for _, ns := range namespaces {
		if ns.lease.IsOwner() {
			ns.lease.Release(ctx)
		}
	}
}

// register constructs the namespace described by nsopts and adds it to the
// registry.
func (c *Coordinator) register(nsopts *namespaceOptions) *Namespace {
	c.m.Lock()
	defer c.m.Unlock()

	if ns, ok := c.namespaces[nsopts.Name]; ok {
		return ns
	}

	opts := c.opts

	lm := &lease.Manager{
		Store:     opts.Store,
		Namespace: nsopts.Name,
		TabID:     opts.TabID,
		TTL:       opts.LeaseTTL,
		Logger:    opts.Logger,
	}

	probeFallback := nsopts.FallbackURL != ""
	if nsopts.ProbeFallback != nil {
		probeFallback = *nsopts.ProbeFallback
	}

	ns := &Namespace{
		name:  nsopts.Name,
		lease: lm,
		distributor: &rollout.Distributor{
			Namespace:     nsopts.Name,
			TabID:         opts.TabID,
			Store:         opts.Store,
			Bus:           opts.Bus,
			Lease:         lm,
			Fetcher:       c.fetcher,
			Sandbox:       c.sandbox,
			Capabilities:  opts.Capabilities,
			URL:           nsopts.URL,
			FallbackURL:   nsopts.FallbackURL,
			ProbeFallback: probeFallback,
			EditorSurface: nsopts.EditorSurface,
			Notifier:      opts.Notifier,
			Logger:        opts.Logger,
		},
		applier: &devmode.Applier{
			Namespace:    nsopts.Name,
			TabID:        opts.TabID,
			Store:        opts.Store,
			Sandbox:      c.sandbox,
			Capabilities: opts.Capabilities,
			Activity:     opts.Activity,
			Logger:       opts.Logger,
		},
	}

	if nsopts.WatchDir != "" {
		ns.watcher = &localfs.Watcher{
			Namespace: nsopts.Name,
			TabID:     opts.TabID,
			Dir:       nsopts.WatchDir,
			Interval:  opts.PollInterval,
			Compiler:  nsopts.Compiler,
			Store:     opts.Store,
			Bus:       opts.Bus,
			Lease:     lm,
			Logger:    opts.Logger,
		}
	}

	if nsopts.EditorSurface {
		ns.editorHost = &editor.Host{
			Namespace: nsopts.Name,
			TabID:     opts.TabID,
			Store:     opts.Store,
			Bus:       opts.Bus,
			Logger:    opts.Logger,
		}
	} else if opts.Bus != nil {
		ns.editorFollower = &editor.Follower{
			Namespace: nsopts.Name,
			TabID:     opts.TabID,
			Bus:       opts.Bus,
			Logger:    opts.Logger,
		}
	}

	c.namespaces[nsopts.Name] = ns

	if c.group != nil {
		c.start(ns)
	}

	return ns
}

// Namespace is the coordination handle for a single namespace.
type Namespace struct {
	name           string
	lease          *lease.Manager
	distributor    *rollout.Distributor
	applier        *devmode.Applier
	watcher        *localfs.Watcher
	editorHost     *editor.Host
	editorFollower *editor.Follower
}

// Name returns the namespace's name.
func (ns *Namespace) Name() string {
	return ns.name
}

// Trigger attempts to initiate a rollout with this tab as the host.
//
// If another tab already hosts the namespace, Trigger returns nil and this
// tab observes the rollout as a follower.
func (ns *Namespace) Trigger(ctx context.Context) error {
	return ns.distributor.Trigger(ctx)
}

// Stop forcibly vacates the namespace's host lease, even if it is held by
// another tab.
func (ns *Namespace) Stop(ctx context.Context) error {
	return ns.lease.ForceRelease(ctx)
}

// Publish distributes an artifact produced by the editor surface.
//
// It returns an error if this tab is not the namespace's editor surface;
// every other tab must wait for the durable record instead of persisting.
func (ns *Namespace) Publish(ctx context.Context, art artifact.Artifact) error {
	if ns.editorHost == nil {
		return fmt.Errorf(
			"tab is not the editor surface for %s",
			ns.name,
		)
	}

	return ns.editorHost.Publish(ctx, art)
}
