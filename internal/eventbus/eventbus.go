package eventbus

import "sync"

// Bus is a fan-out publish/subscribe bus for values of type T. Publishing
// never blocks: a subscriber whose buffer is full misses the value and the
// drop hook, if any, is called with the subscriber name.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   []subscriber[T]
	closed bool
	buffer int
	onDrop func(sub string, v T)
}

type subscriber[T any] struct {
	name string
	ch   chan T
}

// Option configures a Bus.
type Option[T any] func(*Bus[T])

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer[T any](n int) Option[T] {
	return func(b *Bus[T]) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithDropHook registers fn to be called for every value a subscriber misses.
func WithDropHook[T any](fn func(sub string, v T)) Option[T] {
	return func(b *Bus[T]) { b.onDrop = fn }
}

// New creates a Bus.
func New[T any](opts ...Option[T]) *Bus[T] {
	b := &Bus[T]{buffer: 32}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish sends v to all subscribers.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		select {
		case s.ch <- v:
		default:
			if b.onDrop != nil {
				b.onDrop(s.name, v)
			}
		}
	}
}

// Subscribe registers a named subscriber and returns its channel.
func (b *Bus[T]) Subscribe(name string) <-chan T {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, subscriber[T]{name: name, ch: ch})
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus[T]) Unsubscribe(sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !b.closed {
				close(s.ch)
			}
			return
		}
	}
}

// Close closes all subscriber channels. Later publishes are ignored.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}
