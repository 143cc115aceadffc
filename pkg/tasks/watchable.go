package tasks

import "sync"

// Watchable broadcasts the latest value of type T to any number of
// subscribers. A late subscriber immediately receives the current
// value if one was ever set. Each subscriber channel holds at most
// one pending value; when a subscriber lags, older values are
// replaced rather than queued, so readers always converge on the most
// recent state.
type Watchable[T any] struct {
	mu       sync.Mutex
	value    T
	hasValue bool
	closed   bool
	subs     map[int]chan T
	nextID   int
}

func NewWatchable[T any]() *Watchable[T] {
	return &Watchable[T]{subs: make(map[int]chan T)}
}

// Set publishes a new current value to all subscribers.
func (w *Watchable[T]) Set(value T) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	w.value = value
	w.hasValue = true

	for _, ch := range w.subs {
		send(ch, value)
	}
}

// Get returns the current value and whether one has been set.
func (w *Watchable[T]) Get() (T, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value, w.hasValue
}

// Subscribe registers a new subscriber and returns its channel plus a
// cancel function. The channel is closed on cancel or when the
// Watchable itself closes.
func (w *Watchable[T]) Subscribe() (<-chan T, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan T, 1)

	if w.closed {
		close(ch)
		return ch, func() {}
	}

	id := w.nextID
	w.nextID++
	w.subs[id] = ch

	if w.hasValue {
		send(ch, w.value)
	}

	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if sub, ok := w.subs[id]; ok {
			delete(w.subs, id)
			close(sub)
		}
	}
}

// Close closes every subscriber channel. Further Set calls are
// ignored.
func (w *Watchable[T]) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true

	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
}

// send replaces the pending value on a capacity-1 channel.
func send[T any](ch chan T, value T) {
	for {
		select {
		case ch <- value:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
