package tasks

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// Throttled runs posted functions on a single background goroutine
// through a depth-1 "drop oldest" slot: a Post always wins over any
// not-yet-started prior post. An optional minimum delay runs between
// a post being observed and its function starting, during which newer
// posts keep replacing the waiting one, so a burst produces a single
// run of the last function.
type Throttled struct {
	logger *log.Logger
	delay  time.Duration

	slot   chan func(context.Context) error
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewThrottled(logger *log.Logger, delay time.Duration) *Throttled {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Throttled{
		logger: logger,
		delay:  delay,
		slot:   make(chan func(context.Context) error, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.loop()
	return t
}

// Post queues fn, replacing any function that has not started yet.
// It never blocks.
func (t *Throttled) Post(fn func(context.Context) error) {
	for {
		select {
		case t.slot <- fn:
			return
		default:
		}
		// Slot full: drop the oldest and retry.
		select {
		case <-t.slot:
		default:
		}
	}
}

func (t *Throttled) loop() {
	defer close(t.done)

	for {
		var fn func(context.Context) error

		select {
		case <-t.ctx.Done():
			return
		case fn = <-t.slot:
		}

		if t.delay > 0 {
			timer := time.NewTimer(t.delay)
		wait:
			for {
				select {
				case <-t.ctx.Done():
					timer.Stop()
					return
				case fn = <-t.slot:
					// Newer post wins; keep waiting out the delay.
				case <-timer.C:
					break wait
				}
			}
		}

		if err := fn(t.ctx); err != nil && t.ctx.Err() == nil {
			t.logger.Error("throttled task failed", "error", err)
		}
	}
}

// Close stops the background goroutine and waits for it to exit. Any
// function still sitting in the slot is discarded.
func (t *Throttled) Close() {
	t.cancel()
	<-t.done
}
