// Package memory is an in-process event bus for a single instance.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"canvaschat/domain/events"
)

// AllGraphs subscribes to the events of every graph.
const AllGraphs = "*"

const defaultBuffer = 256

// EventBus fans domain events out to per-graph subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event, and the miss is
// counted in Dropped.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan events.DomainEvent
	nextID uint64
	buffer int
	closed bool

	dropped atomic.Int64
	logger  *zap.Logger
}

// NewEventBus creates a bus whose subscriptions buffer up to buffer events.
func NewEventBus(buffer int, logger *zap.Logger) *EventBus {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subs:   make(map[string]map[uint64]chan events.DomainEvent),
		buffer: buffer,
		logger: logger.Named("bus"),
	}
}

// Publish sends an event to the subscribers of its graph.
func (b *EventBus) Publish(_ context.Context, event events.DomainEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	b.deliver(event.GetAggregateID(), event)
	b.deliver(AllGraphs, event)
	return nil
}

// PublishBatch sends events in order.
func (b *EventBus) PublishBatch(ctx context.Context, evts []events.DomainEvent) error {
	for _, e := range evts {
		if err := b.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// deliver requires b.mu held.
func (b *EventBus) deliver(key string, event events.DomainEvent) {
	for id, ch := range b.subs[key] {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
			b.logger.Debug("subscriber too slow, event dropped",
				zap.String("graph_id", key),
				zap.Uint64("subscription", id),
				zap.String("event_type", event.GetEventType()),
			)
		}
	}
}

// Subscribe returns the events of graphID (or AllGraphs) and a function that
// ends the subscription. The channel is closed when the subscription ends or
// the bus closes.
func (b *EventBus) Subscribe(graphID string) (<-chan events.DomainEvent, func()) {
	ch := make(chan events.DomainEvent, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextID++
	id := b.nextID
	if b.subs[graphID] == nil {
		b.subs[graphID] = make(map[uint64]chan events.DomainEvent)
	}
	b.subs[graphID][id] = ch
	b.mu.Unlock()

	b.logger.Debug("subscribed", zap.String("graph_id", graphID), zap.Uint64("subscription", id))

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[graphID]; ok {
				if _, live := set[id]; live {
					delete(set, id)
					close(ch)
				}
				if len(set) == 0 {
					delete(b.subs, graphID)
				}
			}
		})
	}
}

// Subscribers counts the live subscriptions of graphID.
func (b *EventBus) Subscribers(graphID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[graphID])
}

// Dropped counts events lost to full subscriber buffers.
func (b *EventBus) Dropped() int64 { return b.dropped.Load() }

// Close ends every subscription.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for key, set := range b.subs {
		for _, ch := range set {
			close(ch)
		}
		delete(b.subs, key)
	}
}
