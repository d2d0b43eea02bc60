// Package fanout delivers per-key change notifications to subscribers.
//
// It provides the notification half of the persistence.Store contract: each
// subscriber has its own mailbox and delivery goroutine, so notifications for
// a key are delivered in write order without blocking the writer.
package fanout

import (
	"sync"

	"github.com/DavidKk/tabsync/persistence"
)

// Exchange routes change notifications to the subscribers of each key.
type Exchange struct {
	m      sync.Mutex
	closed bool
	subs   map[string]map[*Subscriber]struct{}
}

// Subscribe registers h against the given key.
func (e *Exchange) Subscribe(key string, h persistence.Handler) (*Subscriber, error) {
	e.m.Lock()
	defer e.m.Unlock()

	if e.closed {
		return nil, persistence.ErrStoreClosed
	}

	if e.subs == nil {
		e.subs = map[string]map[*Subscriber]struct{}{}
	}

	if e.subs[key] == nil {
		e.subs[key] = map[*Subscriber]struct{}{}
	}

	s := &Subscriber{
		exchange: e,
		key:      key,
		handler:  h,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	e.subs[key][s] = struct{}{}

	go s.run()

	return s, nil
}

// Publish delivers a change to every subscriber of the given key.
//
// Calls for the same key must be serialized by the caller, in write order.
func (e *Exchange) Publish(key string, prev, next persistence.Record) {
	e.m.Lock()
	defer e.m.Unlock()

	for s := range e.subs[key] {
		s.enqueue(prev, next)
	}
}

// Close cancels all subscriptions.
func (e *Exchange) Close() error {
	e.m.Lock()
	defer e.m.Unlock()

	if e.closed {
		return persistence.ErrStoreClosed
	}

	e.closed = true

	for _, subs := range e.subs {
		for s := range subs {
			s.stop()
		}
	}

	e.subs = nil

	return nil
}

func (e *Exchange) unsubscribe(s *Subscriber) {
	e.m.Lock()
	defer e.m.Unlock()

	if subs, ok := e.subs[s.key]; ok {
		delete(subs, s)

		if len(subs) == 0 {
			delete(e.subs, s.key)
		}
	}
}

// change is a single queued notification.
type change struct {
	prev, next persistence.Record
}

// Subscriber is a single subscription to one key.
//
// It implements persistence.Subscription.
type Subscriber struct {
	exchange *Exchange
	key      string
	handler  persistence.Handler

	m     sync.Mutex
	queue []change
	ready chan struct{}

	once sync.Once
	done chan struct{}
}

// Close cancels the subscription.
func (s *Subscriber) Close() error {
	s.exchange.unsubscribe(s)
	s.stop()
	return nil
}

func (s *Subscriber) stop() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *Subscriber) enqueue(prev, next persistence.Record) {
	s.m.Lock()
	s.queue = append(s.queue, change{prev, next})
	s.m.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// run delivers queued changes to the handler, in order, until the
// subscription is closed.
func (s *Subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ready:
		}

		for {
			s.m.Lock()
			if len(s.queue) == 0 {
				s.m.Unlock()
				break
			}

			c := s.queue[0]
			s.queue = s.queue[1:]
			s.m.Unlock()

			select {
			case <-s.done:
				return
			default:
			}

			s.handler(c.prev, c.next)
		}
	}
}
