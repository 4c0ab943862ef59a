package event

import (
	"context"
	"sync"
)

// Publisher is the write side of the notification channel. The core only ever publishes.
type Publisher interface {
	Publish(ctx context.Context, n Notification)
}

// PublisherFunc adapts a function into a Publisher.
type PublisherFunc func(ctx context.Context, n Notification)

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, n Notification) { f(ctx, n) }

// Discard drops every notification.
var Discard Publisher = PublisherFunc(func(context.Context, Notification) {})

// Handler receives a published notification.
type Handler func(ctx context.Context, n Notification)

type subscription struct {
	id int
	h  Handler
}

// Bus is an in-process publish/subscribe channel keyed by notification type.
// Publish delivers synchronously to every current subscriber before returning.
// It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	byType map[Type][]subscription
	all    []subscription
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{byType: make(map[Type][]subscription)}
}

// Subscribe registers h for notifications of type t and returns a function
// that removes the subscription.
func (b *Bus) Subscribe(t Type, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.byType[t] = append(b.byType[t], subscription{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.byType[t] = without(b.byType[t], id)
	}
}

// SubscribeAll registers h for every notification type.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = without(b.all, id)
	}
}

// Publish delivers n to type subscribers first, then to catch-all subscribers.
func (b *Bus) Publish(ctx context.Context, n Notification) {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.byType[n.Type()])+len(b.all))
	for _, s := range b.byType[n.Type()] {
		targets = append(targets, s.h)
	}
	for _, s := range b.all {
		targets = append(targets, s.h)
	}
	b.mu.RUnlock()

	for _, h := range targets {
		h(ctx, n)
	}
}

func without(subs []subscription, id int) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
