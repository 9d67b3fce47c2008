package event

import (
	"reflect"
	"sync"
)

// Bus is a double-buffered event bus owned by the simulation goroutine.
// Events emitted during tick N are delivered during tick N+1, when
// EventDispatchSystem calls SwapBuffers followed by DispatchAll.
type Bus struct {
	mu       sync.Mutex // guards handlers only
	front    map[reflect.Type][]any
	back     map[reflect.Type][]any
	handlers map[reflect.Type][]func(any)
}

func NewBus() *Bus {
	return &Bus{
		front:    make(map[reflect.Type][]any),
		back:     make(map[reflect.Type][]any),
		handlers: make(map[reflect.Type][]func(any)),
	}
}

func typeKey[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Emit queues an event for delivery on the next dispatch.
// Only call from the simulation goroutine.
func Emit[T any](b *Bus, ev T) {
	t := typeKey[T]()
	b.back[t] = append(b.back[t], ev)
}

// Subscribe registers a handler for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := typeKey[T]()
	b.handlers[t] = append(b.handlers[t], func(ev any) { fn(ev.(T)) })
}

// SwapBuffers moves the events emitted since the last swap to the front
// buffer and empties the back buffer.
func (b *Bus) SwapBuffers() {
	b.front, b.back = b.back, b.front
	for k := range b.back {
		b.back[k] = b.back[k][:0]
	}
}

// DispatchAll delivers front-buffer events to their handlers. Events of one
// type arrive in emission order; no order holds across types.
func (b *Bus) DispatchAll() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for t, events := range b.front {
		hs := b.handlers[t]
		for _, ev := range events {
			for _, h := range hs {
				h(ev)
			}
		}
		n += len(events)
	}
	return n
}
