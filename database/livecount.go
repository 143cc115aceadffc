package database

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"chatvault/pkg/tasks"
)

// liveCountDelay spaces out recomputes when writes arrive in bursts.
const liveCountDelay = 100 * time.Millisecond

// liveCount publishes the result of a counting query and recomputes it
// on demand, at most once per liveCountDelay. Repositories call update
// after every write; subscribers see the latest total without issuing
// their own queries.
type liveCount struct {
	watch     *tasks.Watchable[int64]
	throttled *tasks.Throttled
	count     func(ctx context.Context) (int64, error)
	logger    *log.Logger
}

func newLiveCount(logger *log.Logger, count func(ctx context.Context) (int64, error)) *liveCount {
	c := &liveCount{
		watch:  tasks.NewWatchable[int64](),
		count:  count,
		logger: logger,
	}
	c.throttled = tasks.NewThrottled(logger, liveCountDelay)
	return c
}

// update schedules a recompute. Calls during the throttle window
// coalesce into one query.
func (c *liveCount) update() {
	c.throttled.Post(func(ctx context.Context) error {
		total, err := c.count(ctx)
		if err != nil {
			return err
		}
		c.watch.Set(total)
		return nil
	})
}

// Subscribe returns a channel that replays the current total and then
// receives every subsequent one, plus a cancel func. Slow readers only
// ever lag by one value.
func (c *liveCount) Subscribe() (<-chan int64, func()) {
	return c.watch.Subscribe()
}

// Get returns the last published total, or zero before the first
// recompute finishes.
func (c *liveCount) Get() int64 {
	v, _ := c.watch.Get()
	return v
}

func (c *liveCount) Close() {
	c.throttled.Close()
	c.watch.Close()
}
