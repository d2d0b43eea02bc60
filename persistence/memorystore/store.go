// Package memorystore provides an in-memory implementation of the durable
// shared record store.
//
// Values do not survive a process restart, making this implementation
// suitable for tests and for simulating many tabs within a single process.
package memorystore

import (
	"context"
	"sync"

	"github.com/DavidKk/tabsync/persistence"
	"github.com/DavidKk/tabsync/persistence/internal/fanout"
)

// Store is an in-memory implementation of persistence.Store.
type Store struct {
	m        sync.Mutex
	closed   bool
	records  map[string]persistence.Record
	exchange fanout.Exchange
}

// New returns a new empty in-memory store.
func New() *Store {
	return &Store{
		records: map[string]persistence.Record{},
	}
}

// Get returns the current value of the given key.
func (s *Store) Get(_ context.Context, key string) (persistence.Record, bool, error) {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return persistence.Record{}, false, persistence.ErrStoreClosed
	}

	rec, ok := s.records[key]

	return rec.Clone(), ok, nil
}

// Set replaces the value of the given key and notifies its subscribers.
func (s *Store) Set(_ context.Context, key string, rec persistence.Record) error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return persistence.ErrStoreClosed
	}

	prev := s.records[key]
	rec = rec.Clone()
	s.records[key] = rec

	// The store mutex is held while publishing so that notifications for a
	// key are enqueued in write order.
	s.exchange.Publish(key, prev, rec)

	return nil
}

// Subscribe registers h to be invoked whenever the value of the given key
// changes.
func (s *Store) Subscribe(key string, h persistence.Handler) (persistence.Subscription, error) {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return nil, persistence.ErrStoreClosed
	}

	return s.exchange.Subscribe(key, h)
}

// Close closes the store, cancelling any subscriptions.
func (s *Store) Close() error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return persistence.ErrStoreClosed
	}

	s.closed = true
	s.records = nil

	return s.exchange.Close()
}
