// Package downloader runs the background pipeline that fetches
// attachment and media URLs recorded in the store. A queue filler
// claims pending rows in batches and feeds a bounded channel drained
// by a fixed set of workers; results are written back as shared
// download rows.
package downloader

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"chatvault/database"
	"chatvault/pkg/tasks"
	"chatvault/types"
)

const (
	// pullBatchSize bounds how many pending rows one filler pass
	// claims from the store.
	pullBatchSize = 25

	// idleSleep is how long the filler waits when the store has no
	// pending rows before asking again.
	idleSleep = 50 * time.Millisecond
)

// Options configures one pipeline run.
type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	UserAgent string

	// RateLimit caps request starts per second across all workers.
	// Zero means unlimited.
	RateLimit float64

	// ProxyURL routes worker requests through an http, https or socks5
	// proxy when set.
	ProxyURL string
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 25
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// Result is published for every finished fetch, successful or not.
type Result struct {
	Item   types.DownloadItem
	Status types.DownloadStatus
	Size   uint64
	Error  error

	blob []byte
}

// Downloader owns the pipeline lifecycle. Start and Stop are
// idempotent; a stopped downloader can be started again.
type Downloader struct {
	store  *database.Store
	logger *log.Logger
	opts   Options

	mu        sync.Mutex
	canceller *tasks.Canceller
	done      chan struct{}

	finished *tasks.Publisher[Result]
}

func New(store *database.Store, logger *log.Logger, opts Options) *Downloader {
	opts = opts.withDefaults()
	return &Downloader{
		store:    store,
		logger:   logger,
		opts:     opts,
		finished: tasks.NewPublisher[Result](opts.QueueSize),
	}
}

// Start launches the pipeline with the given filter. Calling Start
// while the pipeline is already running does nothing.
func (d *Downloader) Start(filter *types.DownloadFilter) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.canceller != nil && !d.canceller.Cancelled(false) {
		return
	}

	canceller := tasks.NewCanceller(context.Background())
	done := make(chan struct{})
	d.canceller = canceller
	d.done = done

	var limiter *rate.Limiter
	if d.opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(d.opts.RateLimit), 1)
	}

	d.logger.Info("starting download pipeline", "workers", d.opts.Workers, "queue", d.opts.QueueSize)
	go d.run(canceller, filter, limiter, done)
}

// Stop shuts the pipeline down gracefully: no new rows are claimed,
// queued and in-flight fetches finish, then claimed-but-unfetched rows
// go back to pending. Blocks until the pipeline has exited.
func (d *Downloader) Stop() {
	d.stop(false)
}

// Abort shuts the pipeline down immediately, cancelling in-flight
// requests. Aborted rows go back to pending.
func (d *Downloader) Abort() {
	d.stop(true)
}

func (d *Downloader) stop(hard bool) {
	d.mu.Lock()
	canceller := d.canceller
	done := d.done
	d.mu.Unlock()

	if canceller == nil {
		return
	}

	if hard {
		canceller.HardCancel()
	} else {
		canceller.SoftCancel()
	}
	<-done

	// Rows claimed but never fetched would otherwise stay stuck in the
	// downloading state until the next open.
	requeued, err := d.store.Downloads.MoveDownloadingBackToPending(context.Background())
	if err != nil {
		d.logger.Error("requeuing unfinished downloads", "error", err)
	} else if requeued > 0 {
		d.logger.Info("requeued unfinished downloads", "count", requeued)
	}
}

// IsDownloading reports whether the pipeline is currently running.
func (d *Downloader) IsDownloading() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.canceller == nil {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
		return !d.canceller.Cancelled(false)
	}
}

// Finished returns a channel delivering every fetch result in
// completion order, plus a cancel func. A reader that stops consuming
// without cancelling eventually blocks the workers.
func (d *Downloader) Finished() (<-chan Result, func()) {
	return d.finished.Subscribe()
}

// Close stops the pipeline and the result stream.
func (d *Downloader) Close() {
	d.Stop()
	d.finished.Close()
}

func (d *Downloader) run(canceller *tasks.Canceller, filter *types.DownloadFilter, limiter *rate.Limiter, done chan struct{}) {
	defer close(done)
	defer canceller.Release()

	queue := make(chan types.DownloadItem, d.opts.QueueSize)
	ctx := canceller.Context()

	var workers sync.WaitGroup
	for i := 0; i < d.opts.Workers; i++ {
		worker, err := newWorker(d, limiter)
		if err != nil {
			d.logger.Error("creating download worker", "error", err)
			break
		}
		workers.Add(1)
		go func() {
			defer workers.Done()
			worker.loop(ctx, queue)
		}()
	}

	d.fill(canceller, filter, queue)
	close(queue)
	workers.Wait()
}

// fill claims pending rows and feeds the queue until cancellation.
func (d *Downloader) fill(canceller *tasks.Canceller, filter *types.DownloadFilter, queue chan<- types.DownloadItem) {
	ctx := canceller.Context()

	for !canceller.Cancelled(false) {
		items, err := d.store.Downloads.PullPending(ctx, pullBatchSize, filter)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("pulling pending downloads", "error", err)
			return
		}

		if len(items) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
			continue
		}

		for _, item := range items {
			select {
			case <-ctx.Done():
				return
			case queue <- item:
			}
		}
	}
}
