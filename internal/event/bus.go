// Package event provides the in-process plugin.EventBus used to fan job
// progress out to the WebSocket stream and the metrics collectors.
package event

import (
	"context"
	"sync"

	"github.com/HerbHall/panupgrade/pkg/plugin"
	"go.uber.org/zap"
)

var _ plugin.EventBus = (*Bus)(nil)

// Bus is an in-memory event bus. Publish runs handlers in the caller's
// goroutine; PublishAsync runs each handler in its own goroutine and Wait
// blocks until those have returned.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	wildcard []subscription
	nextID   uint64

	inflight sync.WaitGroup
	logger   *zap.Logger
}

type subscription struct {
	id      uint64
	handler plugin.EventHandler
}

// NewBus returns an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logger,
	}
}

// Publish delivers the event to topic subscribers, then to wildcard
// subscribers. A panicking handler is logged and does not stop delivery.
func (b *Bus) Publish(ctx context.Context, event plugin.Event) error {
	for _, s := range b.matching(event.Topic) {
		b.safeCall(ctx, s.handler, event)
	}
	return nil
}

// PublishAsync delivers the event without blocking the caller.
func (b *Bus) PublishAsync(ctx context.Context, event plugin.Event) {
	for _, s := range b.matching(event.Topic) {
		b.inflight.Add(1)
		go func(h plugin.EventHandler) {
			defer b.inflight.Done()
			b.safeCall(ctx, h, event)
		}(s.handler)
	}
}

// Wait blocks until every handler started by PublishAsync has returned.
func (b *Bus) Wait() {
	b.inflight.Wait()
}

// Subscribe registers handler for one topic.
func (b *Bus) Subscribe(topic string, handler plugin.EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[topic] = without(b.handlers[topic], id)
	}
}

// SubscribeAll registers handler for every topic.
func (b *Bus) SubscribeAll(handler plugin.EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.wildcard = append(b.wildcard, subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.wildcard = without(b.wildcard, id)
	}
}

// matching copies the subscriber lists so handlers run without the lock
// held and may themselves subscribe or unsubscribe.
func (b *Bus) matching(topic string) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]subscription, 0, len(b.handlers[topic])+len(b.wildcard))
	out = append(out, b.handlers[topic]...)
	return append(out, b.wildcard...)
}

func without(subs []subscription, id uint64) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

func (b *Bus) safeCall(ctx context.Context, handler plugin.EventHandler, event plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", event.Topic),
				zap.String("source", event.Source),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, event)
}
