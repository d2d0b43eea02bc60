// Package boltstore provides a BoltDB-backed implementation of the durable
// shared record store.
//
// Records survive restarts of every tab. Change notifications are delivered
// to subscribers that share the same Store handle.
package boltstore

import (
	"context"
	"os"
	"sync"

	"github.com/DavidKk/tabsync/internal/x/bboltx"
	"github.com/DavidKk/tabsync/persistence"
	"github.com/DavidKk/tabsync/persistence/internal/fanout"
	"github.com/dogmatiq/marshalkit"
	"go.etcd.io/bbolt"
)

var root = []byte("tabsync")

// Store is a BoltDB-backed implementation of persistence.Store.
type Store struct {
	m         sync.Mutex
	closed    bool
	db        *bbolt.DB
	closeDB   func(*bbolt.DB) error
	marshaler marshalkit.ValueMarshaler
	exchange  fanout.Exchange
}

// New returns a store that uses an existing open BoltDB database.
//
// The database is NOT closed when the store is closed.
func New(db *bbolt.DB, m marshalkit.ValueMarshaler) *Store {
	return &Store{
		db:        db,
		marshaler: m,
		closeDB: func(*bbolt.DB) error {
			return nil
		},
	}
}

// Open opens the BoltDB database file at the given path and returns a store
// that uses it.
//
// The database is closed when the store is closed. If mode is zero, 0600 is
// used.
func Open(
	ctx context.Context,
	path string,
	mode os.FileMode,
	m marshalkit.ValueMarshaler,
) (*Store, error) {
	db, err := bboltx.Open(ctx, path, mode, nil)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:        db,
		marshaler: m,
		closeDB: func(db *bbolt.DB) error {
			return db.Close()
		},
	}, nil
}

// Get returns the current value of the given key.
func (s *Store) Get(_ context.Context, key string) (rec persistence.Record, ok bool, err error) {
	if err := s.checkOpen(); err != nil {
		return persistence.Record{}, false, err
	}

	defer bboltx.Recover(&err)

	bboltx.Must(s.db.View(func(tx *bbolt.Tx) (err error) {
		defer bboltx.Recover(&err)
		rec, ok = loadRecord(s.marshaler, tx, key)
		return nil
	}))

	return rec, ok, err
}

// Set replaces the value of the given key and notifies its subscribers.
func (s *Store) Set(_ context.Context, key string, rec persistence.Record) (err error) {
	// The store mutex is held across both the transaction and the publish so
	// that notifications for a key are enqueued in write order.
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return persistence.ErrStoreClosed
	}

	defer bboltx.Recover(&err)

	var prev persistence.Record

	bboltx.Must(s.db.Update(func(tx *bbolt.Tx) (err error) {
		defer bboltx.Recover(&err)
		prev, _ = loadRecord(s.marshaler, tx, key)
		saveRecord(s.marshaler, tx, key, rec)
		return nil
	}))

	s.exchange.Publish(key, prev, rec.Clone())

	return nil
}

// Subscribe registers h to be invoked whenever the value of the given key
// changes.
//
// Notifications are only delivered for writes made through this Store handle.
func (s *Store) Subscribe(key string, h persistence.Handler) (persistence.Subscription, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
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

	err := s.exchange.Close()

	if cerr := s.closeDB(s.db); err == nil {
		err = cerr
	}

	return err
}

func (s *Store) checkOpen() error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return persistence.ErrStoreClosed
	}

	return nil
}
