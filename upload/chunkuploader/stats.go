package chunkuploader

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// Observer receives upload telemetry. It has no effect on control flow.
type Observer interface {
	BlockUploaded(bytes int, took time.Duration)
	BlockFailed(reason string)
}

const (
	BlockFailureRetry       = "retry"
	BlockFailureRateLimited = "rate_limited"
	BlockFailurePermanent   = "permanent"
	BlockFailureExhausted   = "exhausted"
)

type noopObserver struct{}

func (noopObserver) BlockUploaded(int, time.Duration) {}
func (noopObserver) BlockFailed(string)               {}

// progress reports transfer rate and completion after each block.
type progress struct {
	session     *Session
	parallelism int
	start       time.Time
	logger      log.Logger
	observer    Observer
}

func newProgress(session *Session, parallelism int, logger log.Logger, observer Observer) *progress {
	return &progress{
		session:     session,
		parallelism: parallelism,
		start:       time.Now(),
		logger:      logger,
		observer:    observer,
	}
}

func (p *progress) blockDone(n int, took time.Duration) {
	p.observer.BlockUploaded(n, took)

	sofar := p.session.addTransferred(uint64(n))

	percent := 100.0
	if p.session.FileSize > 0 {
		percent = float64(p.session.StartOffset+sofar) / float64(p.session.FileSize) * 100
	}

	// Assumes all parallel uploads run at roughly the same speed.
	var blockRate float64
	if took > 0 {
		blockRate = float64(n) / took.Seconds() * float64(p.parallelism)
	}

	var overallRate float64
	if elapsed := time.Since(p.start); elapsed > 0 {
		overallRate = float64(sofar) / elapsed.Seconds()
	}

	p.logger.Printf("%.1f%%: %s uploaded, %s/s, %s/s average",
		percent,
		units.HumanSize(float64(sofar)),
		units.HumanSize(blockRate),
		units.HumanSize(overallRate))
}
