package tasks

import "sync"

// Publisher delivers every published value to every subscriber in
// publish order. Unlike Watchable there is no replay and no
// coalescing: once a subscriber's buffer fills, Publish blocks until
// that subscriber reads, cancels, or the Publisher closes.
type Publisher[T any] struct {
	buffer int

	mu     sync.Mutex
	closed bool
	subs   map[int]*publisherSub[T]
	nextID int
}

type publisherSub[T any] struct {
	ch   chan T
	done chan struct{}
}

// NewPublisher creates a Publisher whose subscriber channels buffer up
// to buffer values.
func NewPublisher[T any](buffer int) *Publisher[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Publisher[T]{buffer: buffer, subs: make(map[int]*publisherSub[T])}
}

// Publish sends value to every current subscriber.
func (p *Publisher[T]) Publish(value T) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	targets := make([]*publisherSub[T], 0, len(p.subs))
	for _, sub := range p.subs {
		targets = append(targets, sub)
	}
	p.mu.Unlock()

	// Sends happen outside the lock so a full subscriber blocks only
	// this publisher, not Subscribe or cancel.
	for _, sub := range targets {
		select {
		case sub.ch <- value:
		case <-sub.done:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus a
// cancel function. The channel is never closed; readers stop by
// calling cancel.
func (p *Publisher[T]) Subscribe() (<-chan T, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub := &publisherSub[T]{
		ch:   make(chan T, p.buffer),
		done: make(chan struct{}),
	}

	if p.closed {
		close(sub.done)
		return sub.ch, func() {}
	}

	id := p.nextID
	p.nextID++
	p.subs[id] = sub

	return sub.ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if current, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(current.done)
		}
	}
}

// Close detaches every subscriber and unblocks pending Publish calls.
// Further Publish calls are ignored.
func (p *Publisher[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for id, sub := range p.subs {
		delete(p.subs, id)
		close(sub.done)
	}
}
