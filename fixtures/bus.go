package fixtures

import (
	"context"

	"github.com/DavidKk/tabsync/bus"
	"github.com/DavidKk/tabsync/bus/memorybus"
)

// BusStub is a test implementation of the bus.Bus interface.
type BusStub struct {
	bus.Bus

	PostFunc      func(context.Context, bus.Message) error
	SubscribeFunc func(bus.Handler) (bus.Subscription, error)
	CloseFunc     func() error
}

// NewBusStub returns a new bus stub backed by an in-process bus.
func NewBusStub() *BusStub {
	return &BusStub{
		Bus: &memorybus.Bus{},
	}
}

// Post broadcasts a message to every subscriber.
func (b *BusStub) Post(ctx context.Context, m bus.Message) error {
	if b.PostFunc != nil {
		return b.PostFunc(ctx, m)
	}

	if b.Bus != nil {
		return b.Bus.Post(ctx, m)
	}

	return nil
}

// Subscribe registers h to be invoked for messages posted to the bus.
func (b *BusStub) Subscribe(h bus.Handler) (bus.Subscription, error) {
	if b.SubscribeFunc != nil {
		return b.SubscribeFunc(h)
	}

	if b.Bus != nil {
		return b.Bus.Subscribe(h)
	}

	return nil, nil
}

// Close closes the bus.
func (b *BusStub) Close() error {
	if b.CloseFunc != nil {
		return b.CloseFunc()
	}

	if b.Bus != nil {
		return b.Bus.Close()
	}

	return nil
}
