package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Bus distributes lifecycle events to subscribers with optional filtering.
//
// All methods are safe for concurrent use. Publish never blocks on a slow
// subscriber: each subscription has its own buffered channel, and events are
// dropped for subscribers whose buffer is full so one stalled consumer cannot
// hold up execution.
type Bus interface {
	// Publish sends an event to all matching subscribers. It returns an
	// error only if the bus is closed.
	Publish(ctx context.Context, event Event) error

	// Subscribe creates a subscription with optional filtering. It returns
	// a channel of matching events and a cleanup function that must be
	// called to unsubscribe. bufferSize <= 0 selects the default.
	Subscribe(ctx context.Context, filter Filter, bufferSize int) (<-chan Event, func())

	// Close shuts down the bus and all subscriptions. After Close, Publish
	// returns an error.
	Close() error
}

// DefaultBus implements Bus with buffered channels and non-blocking sends.
type DefaultBus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscription
	nextID      atomic.Uint64
	options     busOptions
	closed      bool
}

type subscription struct {
	ch     chan Event
	filter Filter
	ctx    context.Context
	cancel context.CancelFunc
}

type busOptions struct {
	defaultBufferSize int
	dropHandler       func(event Event)
}

// BusOption is a functional option for configuring a DefaultBus.
type BusOption func(*busOptions)

// WithDefaultBufferSize sets the buffer size used when Subscribe is called
// with bufferSize <= 0. Default: 64.
func WithDefaultBufferSize(size int) BusOption {
	return func(o *busOptions) {
		if size > 0 {
			o.defaultBufferSize = size
		}
	}
}

// WithDropHandler sets a callback invoked when an event is dropped for a
// slow subscriber. Default: no-op.
func WithDropHandler(fn func(event Event)) BusOption {
	return func(o *busOptions) {
		if fn != nil {
			o.dropHandler = fn
		}
	}
}

// NewBus creates a DefaultBus with the given options.
func NewBus(opts ...BusOption) *DefaultBus {
	options := busOptions{
		defaultBufferSize: 64,
		dropHandler:       func(Event) {},
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &DefaultBus{
		subscribers: make(map[uint64]*subscription),
		options:     options,
	}
}

// Publish sends the event to every subscriber whose filter matches. Full
// subscriber buffers drop the event for that subscriber only.
func (b *DefaultBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	for _, sub := range b.subscribers {
		select {
		case <-sub.ctx.Done():
			// Subscriber gone; cleaned up by its unsubscribe func.
			continue
		default:
		}

		if !sub.filter.Matches(event) {
			continue
		}

		select {
		case sub.ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			b.options.dropHandler(event)
		}
	}
	return nil
}

// Subscribe registers a new subscriber. The returned cleanup function must
// be called to release the subscription and close its channel.
func (b *DefaultBus) Subscribe(ctx context.Context, filter Filter, bufferSize int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bufferSize <= 0 {
		bufferSize = b.options.defaultBufferSize
	}

	id := b.nextID.Add(1)
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		ch:     make(chan Event, bufferSize),
		filter: filter,
		ctx:    subCtx,
		cancel: cancel,
	}
	b.subscribers[id] = sub

	cleanup := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			s.cancel()
			close(s.ch)
		}
	}
	return sub.ch, cleanup
}

// Close shuts down the bus, cancelling and closing every subscription.
func (b *DefaultBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		sub.cancel()
		close(sub.ch)
	}
	return nil
}
