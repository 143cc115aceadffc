package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"

	"chatvault/types"
)

// worker drains the item queue with its own HTTP client and writes
// every outcome back to the store.
type worker struct {
	d       *Downloader
	client  *http.Client
	limiter *rate.Limiter
}

func newWorker(d *Downloader, limiter *rate.Limiter) (*worker, error) {
	transport, err := newTransport(d.opts.ProxyURL)
	if err != nil {
		return nil, err
	}
	return &worker{
		d: d,
		client: &http.Client{
			Timeout:   d.opts.Timeout,
			Transport: transport,
		},
		limiter: limiter,
	}, nil
}

func newTransport(proxyURL string) (*http.Transport, error) {
	transport := &http.Transport{}
	if proxyURL == "" {
		return transport, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy url: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(parsed, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("building proxy dialer: %w", err)
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("proxy dialer for %s does not support contexts", parsed.Scheme)
		}
		transport.DialContext = contextDialer.DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
	}
	return transport, nil
}

func (w *worker) loop(ctx context.Context, queue <-chan types.DownloadItem) {
	for item := range queue {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
		}

		result := w.fetch(ctx, item)
		if result.Error != nil && ctx.Err() != nil {
			// Aborted mid-fetch; the row stays claimed and goes back
			// to pending when the pipeline stops.
			continue
		}
		w.record(ctx, result)
	}
}

// fetch performs the HTTP GET for one item. Transport failures are
// retried with exponential backoff inside the item's time budget; an
// HTTP error status is a final answer and recorded as-is.
func (w *worker) fetch(ctx context.Context, item types.DownloadItem) Result {
	result := Result{Item: item}

	var blob []byte
	var status types.DownloadStatus

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.DownloadURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", w.d.opts.UserAgent)

		resp, err := w.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			status = types.DownloadStatus(resp.StatusCode)
			return nil
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		blob = body
		status = types.StatusSuccess
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(newBackoff(w.d.opts.Timeout), ctx)); err != nil {
		result.Status = types.StatusGenericError
		result.Error = err
		return result
	}

	result.Status = status
	result.Size = uint64(len(blob))
	result.blob = blob
	return result
}

func newBackoff(timeout time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.Multiplier = 1.1
	b.MaxElapsedTime = timeout
	b.MaxInterval = 10 * time.Second
	return b
}

// record writes the outcome back to the store and publishes it.
func (w *worker) record(ctx context.Context, result Result) {
	item := result.Item

	download := types.Download{
		NormalizedURL: item.NormalizedURL,
		DownloadURL:   item.DownloadURL,
		Status:        result.Status,
		Type:          item.Type,
	}

	if result.Status == types.StatusSuccess {
		size := result.Size
		download.Size = &size
		if download.Type == nil {
			// The capture did not know the content type; sniff it from
			// the bytes.
			kind := mimetype.Detect(result.blob).String()
			download.Type = &kind
		}
	} else {
		download.Size = item.Size
	}

	// Writes go through even when the pipeline is shutting down, so a
	// finished fetch is never thrown away.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := w.d.store.Downloads.AddDownload(writeCtx, download, result.blob); err != nil {
		w.d.logger.Error("recording download result", "url", item.NormalizedURL, "error", err)
		return
	}

	if result.Error != nil {
		w.d.logger.Warn("download failed", "url", item.NormalizedURL, "error", result.Error)
	} else if result.Status != types.StatusSuccess {
		w.d.logger.Warn("download rejected", "url", item.NormalizedURL, "status", result.Status.String())
	} else {
		w.d.logger.Debug("downloaded", "url", item.NormalizedURL, "size", result.Size)
	}

	w.d.finished.Publish(result)
}
