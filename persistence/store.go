// Package persistence defines the durable shared record store used to
// coordinate tabs, and the record format stored within it.
package persistence

import (
	"context"
	"errors"
)

// ErrStoreClosed is returned when an operation is performed on a closed store.
var ErrStoreClosed = errors.New("store is closed")

// Handler is a function that handles a change to a single key.
//
// It is invoked with the record that was replaced and the record that replaced
// it. Invocations for a given key occur in write order, but asynchronously
// with respect to the write itself.
type Handler func(prev, next Record)

// Subscription is a registration of a Handler against a key.
type Subscription interface {
	// Close cancels the subscription. No further change notifications are
	// delivered after Close returns.
	Close() error
}

// Store is a namespaced key/value store shared by every tab.
//
// The store is the single source of truth for coordination. Writes are
// durable and fan out to every subscriber of the written key, including the
// writer's own tab. A tab that subscribes after a write only observes the
// current value, not the history.
//
// The store intentionally provides no compare-and-swap primitive. Callers
// must tolerate read-then-write races; see the lease package for how the
// protocol converges despite them.
type Store interface {
	// Get returns the current value of the given key.
	//
	// ok is false if the key has never been written.
	Get(ctx context.Context, key string) (rec Record, ok bool, err error)

	// Set replaces the value of the given key.
	//
	// The change is delivered to every subscriber of the key, including any
	// registered by the caller.
	Set(ctx context.Context, key string, rec Record) error

	// Subscribe registers h to be invoked whenever the value of the given key
	// changes. It remains registered until the subscription is closed.
	Subscribe(key string, h Handler) (Subscription, error)

	// Close closes the store, cancelling any subscriptions.
	Close() error
}

// HostKey returns the store key that holds the lease record for the given
// namespace.
func HostKey(namespace string) string {
	return namespace + "@host"
}

// RecordKey returns the store key that holds the distribution record for the
// given namespace.
func RecordKey(namespace string) string {
	return namespace
}
