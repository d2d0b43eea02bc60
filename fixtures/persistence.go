// Package fixtures provides test doubles for the coordination protocol's
// collaborators.
package fixtures

import (
	"context"

	"github.com/DavidKk/tabsync/persistence"
	"github.com/DavidKk/tabsync/persistence/memorystore"
)

// StoreStub is a test implementation of the persistence.Store interface.
type StoreStub struct {
	persistence.Store

	GetFunc       func(context.Context, string) (persistence.Record, bool, error)
	SetFunc       func(context.Context, string, persistence.Record) error
	SubscribeFunc func(string, persistence.Handler) (persistence.Subscription, error)
	CloseFunc     func() error
}

// NewStoreStub returns a new store stub backed by an in-memory store.
func NewStoreStub() *StoreStub {
	return &StoreStub{
		Store: memorystore.New(),
	}
}

// Get returns the current value of the given key.
func (s *StoreStub) Get(ctx context.Context, key string) (persistence.Record, bool, error) {
	if s.GetFunc != nil {
		return s.GetFunc(ctx, key)
	}

	if s.Store != nil {
		return s.Store.Get(ctx, key)
	}

	return persistence.Record{}, false, nil
}

// Set replaces the value of the given key.
func (s *StoreStub) Set(ctx context.Context, key string, rec persistence.Record) error {
	if s.SetFunc != nil {
		return s.SetFunc(ctx, key, rec)
	}

	if s.Store != nil {
		return s.Store.Set(ctx, key, rec)
	}

	return nil
}

// Subscribe registers h to be invoked whenever the value of the given key
// changes.
func (s *StoreStub) Subscribe(key string, h persistence.Handler) (persistence.Subscription, error) {
	if s.SubscribeFunc != nil {
		return s.SubscribeFunc(key, h)
	}

	if s.Store != nil {
		return s.Store.Subscribe(key, h)
	}

	return nil, nil
}

// Close closes the store.
func (s *StoreStub) Close() error {
	if s.CloseFunc != nil {
		return s.CloseFunc()
	}

	if s.Store != nil {
		return s.Store.Close()
	}

	return nil
}
