// Package lease implements optimistic leader election for the "host" role of
// a namespace.
//
// Election is built on the durable store's read-then-write primitive, which
// is NOT atomic: two tabs may both observe a vacant lease before either
// writes. The protocol accepts this brief split-brain and relies on the
// last write winning plus the idempotence of record application, rather than
// on strict mutual exclusion.
package lease

import (
	"context"
	"sync"
	"time"

	"github.com/DavidKk/tabsync/identity"
	"github.com/DavidKk/tabsync/persistence"
	"github.com/dogmatiq/dodeca/logging"
)

// DefaultTTL is the default duration after which an un-renewed lease is
// treated as abandoned.
//
// It is overridden by the Manager.TTL field.
const DefaultTTL = 1 * time.Minute

// Manager acquires, renews and releases the host lease of a single namespace
// on behalf of one tab.
type Manager struct {
	// Store is the durable store holding the lease record.
	Store persistence.Store

	// Namespace is the namespace the lease governs.
	Namespace string

	// TabID is the identity of the tab this manager acts for.
	TabID identity.TabID

	// TTL is the duration after which an un-renewed lease is treated as
	// abandoned. If it is zero, DefaultTTL is used.
	//
	// Release on tab unload is best-effort; a tab that is killed abruptly
	// leaves its lease behind. The TTL is what makes that state recoverable
	// instead of permanent.
	TTL time.Duration

	// Logger is the target for log messages about lease transitions.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	m     sync.Mutex
	owner identity.TabID
}

// Acquire attempts to acquire the lease for this tab.
//
// It returns false if the lease is currently held by another tab. A false
// result is the expected follower branch, not an error.
//
// The underlying store provides no compare-and-swap, so two tabs may both
// observe a vacant lease and both "succeed"; the later write wins and is
// eventually observed by every tab.
func (m *Manager) Acquire(ctx context.Context) (bool, error) {
	key := persistence.HostKey(m.Namespace)

	rec, ok, err := m.Store.Get(ctx, key)
	if err != nil {
		return false, err
	}

	if ok && !rec.Vacant() && rec.Host != m.TabID && !m.expired(rec) {
		m.setOwner(rec.Host)

		logging.Debug(
			m.Logger,
			"[%s] lease is held by %s",
			m.Namespace,
			rec.Host,
		)

		return false, nil
	}

	if err := m.Store.Set(
		ctx,
		key,
		persistence.Record{
			Host:         m.TabID,
			LastModified: persistence.Now(),
		},
	); err != nil {
		return false, err
	}

	m.setOwner(m.TabID)

	logging.Debug(
		m.Logger,
		"[%s] lease acquired by %s",
		m.Namespace,
		m.TabID,
	)

	return true, nil
}

// Renew refreshes the lease's timestamp, if this tab still holds it.
//
// Hosts renew on every phase transition so that a long-running rollout is not
// mistaken for an abandoned lease.
func (m *Manager) Renew(ctx context.Context) error {
	key := persistence.HostKey(m.Namespace)

	rec, _, err := m.Store.Get(ctx, key)
	if err != nil {
		return err
	}

	if rec.Host != m.TabID {
		return nil
	}

	return m.Store.Set(
		ctx,
		key,
		persistence.Record{
			Host:         m.TabID,
			LastModified: persistence.Now(),
		},
	)
}

// Release vacates the lease, but only if this tab still holds it.
//
// The ownership check prevents a stale host from clobbering a lease that has
// since been claimed by another tab.
func (m *Manager) Release(ctx context.Context) error {
	key := persistence.HostKey(m.Namespace)

	rec, ok, err := m.Store.Get(ctx, key)
	if err != nil {
		return err
	}

	if !ok || rec.Host != m.TabID {
		return nil
	}

	return m.vacate(ctx, key)
}

// ForceRelease vacates the lease regardless of which tab holds it.
//
// It is used to manually stop a distribution driven by another tab.
func (m *Manager) ForceRelease(ctx context.Context) error {
	return m.vacate(ctx, persistence.HostKey(m.Namespace))
}

// IsOwner returns true if this tab is the last known lease owner.
func (m *Manager) IsOwner() bool {
	return m.CurrentOwner() == m.TabID
}

// CurrentOwner returns the last known lease owner, or empty if the lease is
// not known to be held.
//
// The cached owner is updated by Acquire(), by Run(), and by change
// notifications from other tabs.
func (m *Manager) CurrentOwner() identity.TabID {
	m.m.Lock()
	defer m.m.Unlock()

	return m.owner
}

// Run maintains the cached owner from lease-key change notifications until
// ctx is canceled.
//
// This lets a tab observe hand-offs without ever attempting acquisition
// itself.
func (m *Manager) Run(ctx context.Context) error {
	key := persistence.HostKey(m.Namespace)

	if rec, ok, err := m.Store.Get(ctx, key); err != nil {
		return err
	} else if ok {
		m.setOwner(rec.Host)
	}

	sub, err := m.Store.Subscribe(
		key,
		func(_, next persistence.Record) {
			m.setOwner(next.Host)

			logging.Debug(
				m.Logger,
				"[%s] lease owner is now %s",
				m.Namespace,
				ownerString(next.Host),
			)
		},
	)
	if err != nil {
		return err
	}
	defer sub.Close()

	<-ctx.Done()

	return ctx.Err()
}

func (m *Manager) vacate(ctx context.Context, key string) error {
	if err := m.Store.Set(
		ctx,
		key,
		persistence.Record{
			LastModified: persistence.Now(),
		},
	); err != nil {
		return err
	}

	m.setOwner("")

	logging.Debug(
		m.Logger,
		"[%s] lease released",
		m.Namespace,
	)

	return nil
}

func (m *Manager) setOwner(id identity.TabID) {
	m.m.Lock()
	defer m.m.Unlock()

	m.owner = id
}

// expired returns true if the lease record has not been renewed within the
// TTL and may therefore be claimed by a new owner.
func (m *Manager) expired(rec persistence.Record) bool {
	ttl := m.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}

	return rec.LastModified+ttl.Milliseconds() <= persistence.Now()
}

func ownerString(id identity.TabID) string {
	if id == "" {
		return "<none>"
	}

	return string(id)
}
