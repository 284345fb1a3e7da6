package stream

import (
	"context"
	"sync"
)

// Topic fan-outs values of one type to registered callbacks. A topic created
// with NewLatest replays the most recent value to new subscribers; NewSubject
// only delivers values published after subscription.
//
// Publish calls are serialized so every subscriber observes values in
// publication order. Callbacks run outside the subscriber lock and may
// unsubscribe, but must not publish or subscribe to the same topic.
type Topic[T any] struct {
	deliver sync.Mutex

	mu     sync.Mutex
	subs   map[int]func(T)
	next   int
	latest T
	has    bool
	replay bool
}

// NewSubject returns a topic without replay, used for pings.
func NewSubject[T any]() *Topic[T] {
	return &Topic[T]{subs: make(map[int]func(T))}
}

// NewLatest returns a topic that replays the last published value.
func NewLatest[T any]() *Topic[T] {
	return &Topic[T]{subs: make(map[int]func(T)), replay: true}
}

// Subscribe registers fn and returns a function that removes it. With replay
// enabled and a value already published, fn is invoked once immediately.
func (t *Topic[T]) Subscribe(fn func(T)) func() {
	t.deliver.Lock()
	t.mu.Lock()
	id := t.next
	t.next++
	t.subs[id] = fn
	latest, has := t.latest, t.has && t.replay
	t.mu.Unlock()
	if has {
		fn(latest)
	}
	t.deliver.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// Publish records v as the latest value and delivers it to every subscriber.
func (t *Topic[T]) Publish(v T) {
	t.deliver.Lock()
	defer t.deliver.Unlock()

	t.mu.Lock()
	t.latest, t.has = v, true
	fns := make([]func(T), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Latest returns the most recently published value.
func (t *Topic[T]) Latest() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest, t.has
}

// Subscribers reports the number of registered callbacks.
func (t *Topic[T]) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Watch adapts the topic to a channel for streaming handlers. The channel
// holds at most one pending value; a slow reader only sees the newest one.
// The channel is closed when ctx ends.
func (t *Topic[T]) Watch(ctx context.Context) <-chan T {
	w := &watcher[T]{ch: make(chan T, 1)}
	cancel := t.Subscribe(w.offer)
	go func() {
		<-ctx.Done()
		cancel()
		w.close()
	}()
	return w.ch
}

type watcher[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

func (w *watcher[T]) offer(v T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- v:
		return
	default:
	}
	// Replace the stale pending value.
	select {
	case <-w.ch:
	default:
	}
	select {
	case w.ch <- v:
	default:
	}
}

func (w *watcher[T]) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
}
