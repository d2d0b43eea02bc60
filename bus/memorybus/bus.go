// Package memorybus provides an in-process implementation of the ephemeral
// broadcast bus.
package memorybus

import (
	"context"
	"errors"
	"sync"

	"github.com/DavidKk/tabsync/bus"
)

// ErrBusClosed is returned when an operation is performed on a closed bus.
var ErrBusClosed = errors.New("bus is closed")

// DefaultBufferSize is the number of undelivered messages buffered for each
// subscriber before further messages are dropped.
const DefaultBufferSize = 16

// New returns a new in-process bus.
func New() *Bus {
	return &Bus{}
}

// Bus is an in-process implementation of bus.Bus.
type Bus struct {
	// BufferSize is the per-subscriber buffer size.
	// If it is zero, DefaultBufferSize is used.
	BufferSize int

	m      sync.Mutex
	closed bool
	subs   map[*subscription]struct{}
}

// Post broadcasts a message to every subscriber.
//
// If a subscriber's buffer is full the message is silently dropped for that
// subscriber. That is the best-effort contract, not an error.
func (b *Bus) Post(_ context.Context, m bus.Message) error {
	b.m.Lock()
	defer b.m.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	for s := range b.subs {
		select {
		case s.messages <- m:
		default:
		}
	}

	return nil
}

// Subscribe registers h to be invoked for messages posted to the bus.
func (b *Bus) Subscribe(h bus.Handler) (bus.Subscription, error) {
	b.m.Lock()
	defer b.m.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	n := b.BufferSize
	if n <= 0 {
		n = DefaultBufferSize
	}

	s := &subscription{
		bus:      b,
		handler:  h,
		messages: make(chan bus.Message, n),
		done:     make(chan struct{}),
	}

	if b.subs == nil {
		b.subs = map[*subscription]struct{}{}
	}

	b.subs[s] = struct{}{}

	go s.run()

	return s, nil
}

// Close closes the bus, cancelling any subscriptions.
func (b *Bus) Close() error {
	b.m.Lock()
	defer b.m.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	b.closed = true

	for s := range b.subs {
		s.stop()
	}

	b.subs = nil

	return nil
}

func (b *Bus) unsubscribe(s *subscription) {
	b.m.Lock()
	defer b.m.Unlock()

	delete(b.subs, s)
}

// subscription is a single registration against the bus.
type subscription struct {
	bus      *Bus
	handler  bus.Handler
	messages chan bus.Message

	once sync.Once
	done chan struct{}
}

// Close cancels the subscription.
func (s *subscription) Close() error {
	s.bus.unsubscribe(s)
	s.stop()
	return nil
}

func (s *subscription) stop() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case m := <-s.messages:
			s.handler(m)
		}
	}
}
