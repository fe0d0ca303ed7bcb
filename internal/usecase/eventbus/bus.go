// Package eventbus is the in-process publish/subscribe hub that connects
// the job registry, dev-server manager and filesystem watcher to the
// delivery layer.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"remotedev/internal/domain"
)

type queuedEvent struct {
	ctx   context.Context
	event domain.Event
}

// subscription owns an ordered mailbox drained by a single goroutine, so a
// subscriber sees events in publish order.
type subscription struct {
	id      uint64
	handler domain.EventHandler

	mu     sync.Mutex
	queue  []queuedEvent
	notify chan struct{}
	closed bool
	done   chan struct{}
}

func newSubscription(id uint64, handler domain.EventHandler) *subscription {
	return &subscription{
		id:      id,
		handler: handler,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *subscription) enqueue(ctx context.Context, event domain.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, queuedEvent{ctx: ctx, event: event})
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// close stops accepting events; queued events are still delivered.
func (s *subscription) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.notify)
	}
	s.mu.Unlock()
}

func (s *subscription) run(logger *slog.Logger) {
	defer close(s.done)
	for {
		_, ok := <-s.notify
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.queue[0]
			s.queue[0] = queuedEvent{}
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.deliver(logger, next)
		}
		if !ok {
			return
		}
	}
}

func (s *subscription) deliver(logger *slog.Logger, q queuedEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panicked",
				"event", string(q.event.Type),
				"panic", r,
			)
		}
	}()
	s.handler(q.ctx, q.event)
}

// Bus is an in-process, goroutine-safe event bus. Handlers run on a
// per-subscription goroutine: a slow subscriber never blocks Publish and
// never reorders its own events.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]*subscription
	allSubs []*subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		typed:  make(map[domain.EventType][]*subscription),
		logger: logger.With(slog.String("component", "eventbus")),
	}
}

// Publish enqueues an event for matching typed subscribers and all-event
// subscribers. The request context's cancellation is not propagated to
// handlers, which may run after the publisher has returned.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	ctx = context.WithoutCancel(ctx)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.typed[event.Type] {
		sub.enqueue(ctx, event)
	}
	for _, sub := range b.allSubs {
		sub.enqueue(ctx, event)
	}
}

func (b *Bus) start(handler domain.EventHandler) *subscription {
	sub := newSubscription(b.nextID.Add(1), handler)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.run(b.logger)
	}()
	return sub
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	sub := b.start(handler)

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		subs := b.typed[eventType]
		for i, s := range subs {
			if s.id == sub.id {
				b.typed[eventType] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.close()
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	sub := b.start(handler)

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		for i, s := range b.allSubs {
			if s.id == sub.id {
				b.allSubs = append(b.allSubs[:i:i], b.allSubs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.close()
	}
}

// Close prevents new publishes, delivers what is already queued and waits
// for every subscriber goroutine to finish. Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	for _, subs := range b.typed {
		for _, s := range subs {
			s.close()
		}
	}
	for _, s := range b.allSubs {
		s.close()
	}
	b.mu.Unlock()

	b.wg.Wait()
}
