package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Publisher is what the pipeline needs from a bus.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Bus fans events out to subscribers without blocking publishers. A
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscription
	bufferSize  int
	logger      *slog.Logger
	closed      bool
	dropped     atomic.Int64
}

type subscription struct {
	id     string
	ch     chan Event
	filter Filter
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the default subscriber buffer. Default: 256.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithLogger sets the logger used to report dropped events.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates a Bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[string]*subscription),
		bufferSize:  256,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers event to every matching subscriber. It returns an error
// only when the bus is closed or ctx is done.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	for _, sub := range b.subscribers {
		if sub.ctx.Err() != nil || !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			b.dropped.Add(1)
			b.logger.DebugContext(ctx, "dropped event for slow subscriber",
				"subscriber_id", sub.id,
				"event_type", event.Type,
				"finding_id", event.FindingID,
			)
		}
	}
	return nil
}

// Subscribe returns a channel of matching events and a cleanup function that
// must be called to release the subscription. bufferSize 0 uses the bus
// default.
func (b *Bus) Subscribe(ctx context.Context, filter Filter, bufferSize int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bufferSize <= 0 {
		bufferSize = b.bufferSize
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		id:     uuid.NewString(),
		ch:     make(chan Event, bufferSize),
		filter: filter,
		ctx:    subCtx,
		cancel: cancel,
	}
	if b.closed {
		cancel()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subscribers[sub.id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { b.unsubscribe(sub.id) })
	}
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	sub.cancel()
	close(sub.ch)
	delete(b.subscribers, id)
}

// Close closes every subscriber channel. Later publishes fail. Close is
// idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subscribers {
		sub.cancel()
		close(sub.ch)
		delete(b.subscribers, id)
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber was
// full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

var _ Publisher = (*Bus)(nil)
