package tasks

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

// Restartable runs one computation at a time; Restart cancels any
// in-flight run outright before starting the new one, so partial
// stale work stops consuming resources immediately. Only a run that
// completes without being cancelled delivers its result.
type Restartable[T any] struct {
	logger  *log.Logger
	deliver func(T)

	mu      sync.Mutex
	current *restartableRun
}

type restartableRun struct {
	cancel context.CancelFunc
}

func NewRestartable[T any](logger *log.Logger, deliver func(T)) *Restartable[T] {
	return &Restartable[T]{logger: logger, deliver: deliver}
}

func (r *Restartable[T]) Restart(fn func(context.Context) (T, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		r.current.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &restartableRun{cancel: cancel}
	r.current = run

	go func() {
		value, err := fn(ctx)

		switch {
		case ctx.Err() != nil:
			// Cancelled; result is meaningless.
		case err != nil:
			r.logger.Error("restartable task failed", "error", err)
		default:
			r.deliver(value)
		}

		cancel()

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.current == run {
			r.current = nil
		}
	}()
}

func (r *Restartable[T]) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		r.current.cancel()
		r.current = nil
	}
}
