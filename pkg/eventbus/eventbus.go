// Package eventbus is an in-process pub/sub keyed by event type.
package eventbus

import (
	"context"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Handler handles one published event.
type Handler func(ctx context.Context, event any)

// Bus dispatches events to the handlers subscribed to their type.
type Bus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]Handler
	logger   *zap.Logger
	inflight sync.WaitGroup
}

func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[reflect.Type][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for events of the same type as sample.
func (b *Bus) Subscribe(sample any, h Handler) {
	t := reflect.TypeOf(sample)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Subscribe registers a typed handler. Events published as T or *T both
// reach it.
func Subscribe[T any](b *Bus, fn func(ctx context.Context, event T)) {
	var zero T
	t := reflect.TypeOf(zero)
	h := func(ctx context.Context, event any) {
		switch v := event.(type) {
		case T:
			fn(ctx, v)
		case *T:
			if v != nil {
				fn(ctx, *v)
			}
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish runs every matching handler on its own goroutine. Handlers keep
// the values of ctx but outlive its cancellation.
func (b *Bus) Publish(ctx context.Context, event any) {
	hs := b.matching(event)
	if len(hs) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, h := range hs {
		b.inflight.Add(1)
		go func(h Handler) {
			defer b.inflight.Done()
			b.run(detached, h, event)
		}(h)
	}
}

// PublishSync runs every matching handler before returning.
func (b *Bus) PublishSync(ctx context.Context, event any) {
	for _, h := range b.matching(event) {
		b.run(ctx, h, event)
	}
}

// Wait blocks until every handler started by Publish has returned.
func (b *Bus) Wait() {
	b.inflight.Wait()
}

// SubscriberCount returns the number of handlers for the type of sample.
func (b *Bus) SubscriberCount(sample any) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[reflect.TypeOf(sample)])
}

func (b *Bus) matching(event any) []Handler {
	t := reflect.TypeOf(event)
	if t == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := append([]Handler(nil), b.handlers[t]...)
	if t.Kind() == reflect.Ptr {
		out = append(out, b.handlers[t.Elem()]...)
	}
	return out
}

func (b *Bus) run(ctx context.Context, h Handler, event any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("eventbus.handler_panic",
				zap.String("event", reflect.TypeOf(event).String()),
				zap.Any("panic", r))
		}
	}()
	h(ctx, event)
}
