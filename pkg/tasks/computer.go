package tasks

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

// ValueComputer runs at most one computation of a value at a time.
// Compute while idle starts the function immediately; Compute while
// busy soft-cancels the in-flight run and records the new function as
// the single pending replacement. When the in-flight run finishes,
// the replacement (if any) starts next. Results of soft-cancelled
// runs are dropped unless WithOutdatedResults was set, so observers
// never see answers out of order.
type ValueComputer[T any] struct {
	logger          *log.Logger
	deliver         func(T)
	deliverOutdated bool

	mu      sync.Mutex
	current *Canceller
	next    func(context.Context) (T, error)
	hasNext bool
}

type computerOption func(*computerConfig)

type computerConfig struct {
	deliverOutdated bool
}

// WithOutdatedResults delivers results of soft-cancelled runs instead
// of dropping them.
func WithOutdatedResults() computerOption {
	return func(c *computerConfig) {
		c.deliverOutdated = true
	}
}

func NewValueComputer[T any](logger *log.Logger, deliver func(T), opts ...computerOption) *ValueComputer[T] {
	var cfg computerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ValueComputer[T]{
		logger:          logger,
		deliver:         deliver,
		deliverOutdated: cfg.deliverOutdated,
	}
}

// Compute requests a computation of fn. If a computation is already
// running, fn replaces any previously queued function; only the most
// recent request ever runs again after the current one finishes.
func (c *ValueComputer[T]) Compute(fn func(context.Context) (T, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.next = fn
		c.hasNext = true
		c.current.SoftCancel()
		return
	}

	c.start(fn)
}

// start must be called with c.mu held.
func (c *ValueComputer[T]) start(fn func(context.Context) (T, error)) {
	canceller := NewCanceller(context.Background())
	c.current = canceller

	go func() {
		value, err := fn(canceller.Context())

		if err != nil {
			if canceller.Context().Err() == nil {
				c.logger.Error("computation failed", "error", err)
			}
		} else if !canceller.Cancelled(true) && (c.deliverOutdated || !canceller.Cancelled(false)) {
			c.deliver(value)
		}

		canceller.Release()

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.current == canceller {
			c.current = nil
		}

		if c.hasNext {
			next := c.next
			c.hasNext = false
			c.next = nil
			c.start(next)
		}
	}()
}

// Cancel hard-cancels the in-flight run and discards any pending
// replacement. The in-flight result is never delivered, even if the
// function returns normally.
func (c *ValueComputer[T]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hasNext = false
	c.next = nil

	if c.current != nil {
		c.current.HardCancel()
	}
}
