// Package tasks provides small coordination primitives for background
// work: paired soft/hard cancellation, single-flight value
// computation, throttled and restartable tasks, and a last-value
// broadcast. They exist so bursts of triggers collapse into the
// minimum amount of background work without dropping the final state.
package tasks

import (
	"context"
	"sync"
)

// CancelState tags how far a Canceller has been cancelled.
type CancelState int32

const (
	CancelNone CancelState = iota
	CancelSoft
	CancelHard
)

// Canceller manages a soft/hard cancellation pair. Soft cancellation
// lets in-flight work finish but marks its result stale; hard
// cancellation also cancels the attached context so the work aborts.
// Hard implies soft, never the other way around.
type Canceller struct {
	mu     sync.Mutex
	state  CancelState
	ctx    context.Context
	cancel context.CancelFunc
}

func NewCanceller(parent context.Context) *Canceller {
	ctx, cancel := context.WithCancel(parent)
	return &Canceller{ctx: ctx, cancel: cancel}
}

// Context is cancelled only by a hard cancellation.
func (c *Canceller) Context() context.Context {
	return c.ctx
}

func (c *Canceller) State() CancelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cancelled reports whether the canceller has reached at least the
// given severity.
func (c *Canceller) Cancelled(onlyHard bool) bool {
	s := c.State()
	if onlyHard {
		return s == CancelHard
	}
	return s != CancelNone
}

func (c *Canceller) SoftCancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CancelNone {
		c.state = CancelSoft
	}
}

func (c *Canceller) HardCancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = CancelHard
	c.cancel()
}

// Release frees the context without marking any cancellation. Call it
// when the guarded work finished normally.
func (c *Canceller) Release() {
	c.cancel()
}
