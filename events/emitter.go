// Package events provides the fan-out change-event dispatcher: a pure
// broadcast with no filtering and no state beyond its subscriber list.
package events

import (
	"context"
	"reflect"
	"sync"

	"rulegraph/ast"
)

// Subscriber is the single capability the emitter requires of a listener.
// The source DSL let subscribers be either a bare callable or an object
// exposing on_event; here that polymorphism collapses to one interface,
// with AdaptFunc bridging a bare function at subscription time.
type Subscriber interface {
	Deliver(ctx context.Context, change ast.ChangeEvent)
}

// AdaptFunc wraps a plain function as a Subscriber.
type AdaptFunc func(ctx context.Context, change ast.ChangeEvent)

func (f AdaptFunc) Deliver(ctx context.Context, change ast.ChangeEvent) { f(ctx, change) }

// Emitter is a fan-out record: subscribers are invoked in registration
// order. Subscribers must not mutate the subscriber list during dispatch;
// doing so is undefined behavior.
type Emitter struct {
	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewEmitter returns an emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Subscribe registers s to receive every future Emit call.
func (e *Emitter) Subscribe(s Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, s)
}

// Unsubscribe removes s. If s was subscribed more than once, only the
// first registration is removed.
func (e *Emitter) Unsubscribe(s Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, sub := range e.subscribers {
		if sameSubscriber(sub, s) {
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			return
		}
	}
}

// sameSubscriber compares two subscribers for identity. Func-backed
// subscribers (AdaptFunc) are not comparable with ==, so those compare by
// underlying code pointer instead.
func sameSubscriber(a, b Subscriber) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() == reflect.Func || vb.Kind() == reflect.Func {
		return va.Kind() == vb.Kind() && va.Pointer() == vb.Pointer()
	}
	return a == b
}

// Emit delivers change to every subscriber, in registration order.
func (e *Emitter) Emit(ctx context.Context, change ast.ChangeEvent) {
	e.mu.RLock()
	subs := make([]Subscriber, len(e.subscribers))
	copy(subs, e.subscribers)
	e.mu.RUnlock()

	for _, s := range subs {
		s.Deliver(ctx, change)
	}
}
