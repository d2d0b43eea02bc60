// Package rollout orchestrates the validate, download, broadcast and execute
// phases of distributing a remotely hosted artifact to every tab.
//
// Exactly one tab, the holder of the namespace's host lease, drives a
// rollout. Every other tab is a follower that only reacts to durable store
// notifications. The previously running artifact is never disturbed until a
// replacement is fully in hand.
package rollout

import (
	"context"
	"sync"

	"github.com/DavidKk/tabsync/artifact"
	"github.com/DavidKk/tabsync/bus"
	"github.com/DavidKk/tabsync/identity"
	"github.com/DavidKk/tabsync/lease"
	"github.com/DavidKk/tabsync/persistence"
	"github.com/DavidKk/tabsync/sandbox"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger/backoff"
)

// Distributor coordinates rollouts for a single namespace on behalf of one
// tab.
//
// It acts as both the potential host (via Trigger) and a follower (via Run).
type Distributor struct {
	// Namespace is the namespace rollouts are coordinated for.
	Namespace string

	// TabID is the identity of the tab this distributor acts for.
	TabID identity.TabID

	// Store is the durable store, the single source of truth for rollout
	// state.
	Store persistence.Store

	// Bus is the ephemeral bus used to shorten perceived latency.
	// It may be nil, in which case only the durable store is used.
	Bus bus.Bus

	// Lease manages the host lease for the namespace.
	Lease *lease.Manager

	// Fetcher probes and downloads the remote artifact.
	Fetcher *artifact.Fetcher

	// Sandbox executes downloaded artifacts.
	Sandbox *sandbox.Sandbox

	// Capabilities is the allow-list of callables reachable from executed
	// artifacts.
	Capabilities map[string]sandbox.Capability

	// URL is the primary location of the artifact.
	URL string

	// FallbackURL is an alternative location probed when the primary URL is
	// unreachable. It is ignored unless ProbeFallback is true.
	FallbackURL string

	// ProbeFallback enables probing FallbackURL before declaring a rollout
	// failed.
	ProbeFallback bool

	// EditorSurface marks this tab as the authoritative editor surface for
	// the namespace. An editor surface never initiates rollouts for its own
	// namespace; it only consumes rollouts initiated elsewhere.
	EditorSurface bool

	// Notifier is the sink for user-visible status transitions.
	// It may be nil.
	Notifier Notifier

	// BackoffStrategy is the strategy used to delay restarting the follower
	// loop after a failure. If it is nil, backoff.DefaultStrategy is used.
	BackoffStrategy backoff.Strategy

	// Logger is the target for log messages about rollouts.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	m       sync.Mutex
	applied int64
}

// Trigger attempts to initiate a rollout with this tab as the host.
//
// If another tab holds the lease, Trigger returns nil immediately; this tab
// remains a follower and will observe the rollout through the durable store.
//
// All validation and download failures are converted into a FAILED record and
// surfaced to followers; they are never returned to the caller and never
// retried automatically.
func (d *Distributor) Trigger(ctx context.Context) error {
	if d.EditorSurface {
		logging.Debug(
			d.Logger,
			"[%s] refusing to initiate a rollout from the editor surface",
			d.Namespace,
		)

		return nil
	}

	acquired, err := d.Lease.Acquire(ctx)
	if err != nil {
		return err
	}

	if !acquired {
		logging.Log(
			d.Logger,
			"[%s] rollout already hosted by %s",
			d.Namespace,
			d.Lease.CurrentOwner(),
		)

		return nil
	}

	return d.host(ctx)
}

// host drives a rollout while this tab holds the lease.
//
// The lease is released on both terminal states.
func (d *Distributor) host(ctx context.Context) error {
	if err := d.persist(ctx, persistence.Record{
		Host:         d.TabID,
		LastModified: persistence.Now(),
		Status:       persistence.StatusValidating,
	}); err != nil {
		d.Lease.Release(ctx)
		return err
	}

	notify(d.Notifier, d.Namespace, persistence.StatusValidating, "checking for updates")

	fallback := ""
	if d.ProbeFallback {
		fallback = d.FallbackURL
	}

	url, err := d.Fetcher.Validate(ctx, d.URL, fallback)
	if err != nil {
		return d.fail(ctx, err)
	}

	// Download the full body before announcing success. The previous artifact
	// must remain runnable on every tab until the new one is fully in hand,
	// so a tab that reloads mid-rollout never ends up with neither.
	body, err := d.Fetcher.Download(ctx, url)
	if err != nil {
		return d.fail(ctx, err)
	}

	if err := d.Lease.Renew(ctx); err != nil {
		logging.Debug(
			d.Logger,
			"[%s] unable to renew lease: %s",
			d.Namespace,
			err,
		)
	}

	rec := persistence.Record{
		Host:         d.TabID,
		LastModified: persistence.Now(),
		Status:       persistence.StatusSuccess,
		ArtifactURL:  url,
	}

	if err := d.persist(ctx, rec); err != nil {
		d.Lease.Release(ctx)
		return err
	}

	d.markApplied(rec.LastModified)

	logging.Log(
		d.Logger,
		"[%s] rollout succeeded, artifact available at %s",
		d.Namespace,
		url,
	)

	// The host executes the body it already holds rather than re-fetching it.
	if err := d.execute(ctx, body); err != nil {
		logging.Log(
			d.Logger,
			"[%s] %s",
			d.Namespace,
			err,
		)
	} else {
		notify(d.Notifier, d.Namespace, persistence.StatusSuccess, "update applied")
	}

	return d.Lease.Release(ctx)
}

// fail records a terminal FAILED state and releases the lease.
//
// The currently running artifact is left fully intact.
func (d *Distributor) fail(ctx context.Context, cause error) error {
	logging.Log(
		d.Logger,
		"[%s] rollout failed: %s",
		d.Namespace,
		cause,
	)

	rec := persistence.Record{
		Host:         d.TabID,
		LastModified: persistence.Now(),
		Status:       persistence.StatusFailed,
		Error:        cause.Error(),
	}

	if err := d.persist(ctx, rec); err != nil {
		d.Lease.Release(ctx)
		return err
	}

	d.markApplied(rec.LastModified)

	notify(d.Notifier, d.Namespace, persistence.StatusFailed, cause.Error())

	return d.Lease.Release(ctx)
}

// persist writes a rollout record durably, then advises the bus.
//
// The bus copy is an optimization only; its loss is never an error.
func (d *Distributor) persist(ctx context.Context, rec persistence.Record) error {
	if err := d.Store.Set(
		ctx,
		persistence.RecordKey(d.Namespace),
		rec,
	); err != nil {
		return err
	}

	if d.Bus != nil {
		if err := d.Bus.Post(ctx, bus.Message{
			Type:        bus.MessageRollout,
			Host:        d.TabID,
			Timestamp:   rec.LastModified,
			Namespace:   d.Namespace,
			Status:      rec.Status,
			Error:       rec.Error,
			ArtifactURL: rec.ArtifactURL,
		}); err != nil {
			logging.Debug(
				d.Logger,
				"[%s] unable to post to bus: %s",
				d.Namespace,
				err,
			)
		}
	}

	return nil
}

// execute runs an artifact body in the sandbox with the configured
// capability allow-list.
func (d *Distributor) execute(ctx context.Context, body string) error {
	return d.Sandbox.Execute(ctx, body, d.Capabilities)
}

// markApplied records the version of the last record applied by this tab.
func (d *Distributor) markApplied(v int64) {
	d.m.Lock()
	defer d.m.Unlock()

	if v > d.applied {
		d.applied = v
	}
}

// lastApplied returns the version of the last record applied by this tab.
func (d *Distributor) lastApplied() int64 {
	d.m.Lock()
	defer d.m.Unlock()

	return d.applied
}
