package gdrive

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bitrise-io/redundinator/backoff"
)

// defaultCooloff is added to the last wait to decide when a new error starts a fresh series.
const defaultCooloff = 5 * time.Minute

// retryDelegate decides on HTTP level retries of Drive calls.
//
// Only connection errors and 408 responses are retried. Waits walk a backoff series; the series
// restarts when the previous retry was long enough ago, and the request is given up when it runs
// out.
type retryDelegate struct {
	series  backoff.Series
	cooloff time.Duration
	now     func() time.Time

	mu      sync.Mutex
	active  bool
	index   int
	last    time.Time
	pending time.Duration
}

func newRetryDelegate() *retryDelegate {
	return &retryDelegate{
		series:  backoff.CalculateSeries(1, 2, 6, 60, 300, 0.5).Rounded(),
		cooloff: defaultCooloff,
		now:     time.Now,
	}
}

// reset forgets the retry history, at the start of every file.
func (d *retryDelegate) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = false
	d.index = 0
	d.pending = 0
}

// next returns the wait before the next retry, or false when the series is exhausted.
func (d *retryDelegate) next() (time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	switch {
	case !d.active:
		d.active = true
		d.index = 0
	case now.Sub(d.last) > d.series.Duration(d.index)+d.cooloff:
		d.index = 0
	case d.index+1 >= len(d.series):
		return 0, false
	default:
		d.index++
	}

	d.last = now
	d.pending = d.series.Duration(d.index)
	return d.pending, true
}

// checkRetry is a retryablehttp.CheckRetry.
func (d *retryDelegate) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil && (resp == nil || resp.StatusCode != http.StatusRequestTimeout) {
		return false, nil
	}

	_, ok := d.next()
	return ok, nil
}

// wait is a retryablehttp.Backoff returning the wait chosen by the last checkRetry.
func (d *retryDelegate) wait(_, _ time.Duration, _ int, _ *http.Response) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
