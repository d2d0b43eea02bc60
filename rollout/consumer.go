package rollout

import (
	"context"

	"github.com/DavidKk/tabsync/persistence"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
)

// Run consumes rollout records for the namespace until ctx is canceled.
//
// This is the follower path: it reacts only to durable store notifications.
// Bus messages may arrive sooner but are advisory and carry no authority.
func (d *Distributor) Run(ctx context.Context) error {
	counter := backoff.Counter{
		Strategy: d.BackoffStrategy,
	}

	for {
		err := d.consume(ctx)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := counter.Fail(err)

		logging.Log(
			d.Logger,
			"[%s] restarting follower in %s: %s",
			d.Namespace,
			delay,
			err,
		)

		if err := linger.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// consume subscribes to the namespace's record and applies each change in
// order.
func (d *Distributor) consume(ctx context.Context) error {
	key := persistence.RecordKey(d.Namespace)

	// A tab only ever observes the record's current value on arrival, never
	// its history. Seed the applied version from it so that at-least-once
	// redelivery of the current record does not re-trigger execution.
	if rec, ok, err := d.Store.Get(ctx, key); err != nil {
		return err
	} else if ok {
		d.markApplied(rec.LastModified)
	}

	changes := make(chan persistence.Record)

	sub, err := d.Store.Subscribe(
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

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-changes:
			d.apply(ctx, rec)
		}
	}
}

// apply reacts to a single record change.
//
// Delivery is at-least-once and cross-tab ordering is clock-based, so apply
// must be idempotent: records that do not supersede the last applied version
// are discarded, as are records from a tab that is not the known host.
func (d *Distributor) apply(ctx context.Context, rec persistence.Record) {
	if rec.LastModified <= d.lastApplied() {
		logging.Debug(
			d.Logger,
			"[%s] ignoring record %d, already applied %d",
			d.Namespace,
			rec.LastModified,
			d.lastApplied(),
		)

		return
	}

	// Guard against stale messages from a previous host. If no owner is
	// known the record is given the benefit of the doubt; the monotonic
	// check above still applies.
	if owner := d.Lease.CurrentOwner(); owner != "" && rec.Host != "" && rec.Host != owner {
		logging.Debug(
			d.Logger,
			"[%s] ignoring record from %s, current host is %s",
			d.Namespace,
			rec.Host,
			owner,
		)

		return
	}

	switch rec.Status {
	case persistence.StatusValidating:
		d.markApplied(rec.LastModified)
		notify(d.Notifier, d.Namespace, persistence.StatusValidating, "update in progress")

	case persistence.StatusFailed:
		d.markApplied(rec.LastModified)
		notify(d.Notifier, d.Namespace, persistence.StatusFailed, rec.Error)

		logging.Log(
			d.Logger,
			"[%s] rollout by %s failed: %s",
			d.Namespace,
			rec.Host,
			rec.Error,
		)

	case persistence.StatusSuccess:
		d.markApplied(rec.LastModified)

		if rec.Host == d.TabID {
			// This tab hosted the rollout and has already executed the body
			// it downloaded.
			return
		}

		d.applySuccess(ctx, rec)

	default:
		// Records without a rollout status belong to the dev-mode variants
		// and are handled by their own consumers.
	}
}

// applySuccess fetches and executes the artifact announced by a successful
// rollout.
//
// Followers did not receive the host's locally-held bytes, so each fetches
// the artifact independently.
func (d *Distributor) applySuccess(ctx context.Context, rec persistence.Record) {
	body, err := d.Fetcher.Download(ctx, rec.ArtifactURL)
	if err != nil {
		logging.Log(
			d.Logger,
			"[%s] %s",
			d.Namespace,
			err,
		)

		notify(d.Notifier, d.Namespace, persistence.StatusFailed, err.Error())

		return
	}

	if err := d.execute(ctx, body); err != nil {
		logging.Log(
			d.Logger,
			"[%s] %s",
			d.Namespace,
			err,
		)

		return
	}

	notify(d.Notifier, d.Namespace, persistence.StatusSuccess, "update applied")
}
