package upload

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/redundinator/backoff"
	"github.com/bitrise-io/redundinator/upload/chunkuploader"
)

// RetryPolicy parameterizes the backoff series of the per-file retry loop.
type RetryPolicy struct {
	Initial      float64
	Multiplier   float64
	MaxRetries   int
	MaxWait      float64
	MaxTotalWait float64
	Jitter       float64
}

// DefaultRetryPolicy waits at most 10 minutes in total on a file that stopped making progress.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:      0.5,
		Multiplier:   1.5,
		MaxRetries:   10,
		MaxWait:      60,
		MaxTotalWait: 600,
		Jitter:       0.5,
	}
}

// Series generates a fresh series for one file. The trailing zero gives one last immediate try.
func (p RetryPolicy) Series() backoff.Series {
	series := backoff.CalculateSeries(p.Initial, p.Multiplier, p.MaxRetries, p.MaxWait, p.MaxTotalWait, p.Jitter)
	return append(series, 0)
}

// Attempter runs a single upload attempt. *chunkuploader.Uploader implements it.
type Attempter interface {
	UploadFile(ctx context.Context, sourcePath, destPath string, resume *chunkuploader.Resume) error
}

// SessionUploader uploads files into a remote folder through resumable upload sessions, retrying
// interrupted attempts from their checkpoint.
type SessionUploader struct {
	attempter Attempter
	metadata  chunkuploader.MetadataGetter
	destDir   string
	policy    RetryPolicy
	sleeper   chunkuploader.Sleeper
	observer  Observer
	logger    log.Logger
}

// SessionUploaderOption configures a SessionUploader.
type SessionUploaderOption func(*SessionUploader)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(policy RetryPolicy) SessionUploaderOption {
	return func(u *SessionUploader) {
		u.policy = policy
	}
}

// WithSleeper replaces the timer used between attempts.
func WithSleeper(s chunkuploader.Sleeper) SessionUploaderOption {
	return func(u *SessionUploader) {
		u.sleeper = s
	}
}

// WithObserver registers a telemetry receiver.
func WithObserver(o Observer) SessionUploaderOption {
	return func(u *SessionUploader) {
		u.observer = o
	}
}

// NewSessionUploader ...
func NewSessionUploader(attempter Attempter, metadata chunkuploader.MetadataGetter, destDir string, logger log.Logger, opts ...SessionUploaderOption) *SessionUploader {
	u := &SessionUploader{
		attempter: attempter,
		metadata:  metadata,
		destDir:   destDir,
		policy:    DefaultRetryPolicy(),
		sleeper:   chunkuploader.ContextSleeper{},
		observer:  noopObserver{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// UploadFile resolves the destination of sourcePath and uploads it.
func (u *SessionUploader) UploadFile(ctx context.Context, sourcePath string) Outcome {
	outcome := u.uploadFile(ctx, sourcePath)
	u.observer.FileFinished(outcome)
	return outcome
}

func (u *SessionUploader) uploadFile(ctx context.Context, sourcePath string) Outcome {
	info, err := os.Stat(sourcePath)
	if err != nil {
		u.logger.Errorf("Failed to get metadata of %s: %s", sourcePath, err)
		return OutcomeFailure
	}

	dest := path.Join(u.destDir, filepath.Base(sourcePath))
	resolved := chunkuploader.ResolveDestination(ctx, u.metadata, dest, sourcePath, uint64(info.Size()))
	switch resolved.Kind {
	case chunkuploader.SkipMatching:
		u.logger.Infof("File already uploaded, skipping: %s", filepath.Base(sourcePath))
		return OutcomeSkipped
	case chunkuploader.ResolveError:
		u.logger.Errorf("Failed to normalize destination path for %s: %s", sourcePath, resolved.Reason)
		return OutcomeFailure
	case chunkuploader.Replace:
		u.logger.Warnf("A different file exists at %s, replacing it", resolved.Path)
	}

	return u.uploadWithRetry(ctx, sourcePath, resolved.Path)
}

// uploadWithRetry repeats upload attempts until one succeeds or the file stops making progress.
//
// Every failure at a new offset resets the backoff to its first step. Only repeated failures at the
// same offset walk further along the series, and running past its end gives up on the file.
func (u *SessionUploader) uploadWithRetry(ctx context.Context, sourcePath, destPath string) Outcome {
	series := u.policy.Series()

	var resume *chunkuploader.Resume
	stuck := 0
	for {
		err := u.attempter.UploadFile(ctx, sourcePath, destPath, resume)
		if err == nil {
			u.logger.Donef("Uploaded file: %s", sourcePath)
			return OutcomeSuccess
		}

		var systemic *chunkuploader.SystemicError
		if errors.As(err, &systemic) {
			u.logger.Errorf("Systemic upload error on %s: %s", sourcePath, err)
			return OutcomeSystemicFailure
		}

		var resumable *chunkuploader.ResumableError
		if !errors.As(err, &resumable) {
			u.logger.Errorf("File upload error on %s: %s", sourcePath, err)
			return OutcomeFailure
		}

		if ctx.Err() != nil {
			u.logger.Warnf("Upload of %s cancelled at %s", sourcePath, resumable.Resume)
			return OutcomeFailure
		}

		stalled := resume != nil && resume.StartOffset == resumable.Resume.StartOffset
		if stalled {
			stuck++
		} else {
			stuck = 0
		}
		u.observer.AttemptResumed(stalled)

		if stuck >= len(series) {
			u.logger.Errorf("Giving up on %s after %d attempts without progress past offset %d", sourcePath, stuck, resumable.Resume.StartOffset)
			return OutcomeFailure
		}

		wait := series.Duration(stuck)
		u.logger.Warnf("Upload of %s interrupted (%s), resuming from %s in %s", sourcePath, resumable.Err, resumable.Resume, wait)
		if err := u.sleeper.Sleep(ctx, wait); err != nil {
			u.logger.Warnf("Upload of %s cancelled while waiting to resume", sourcePath)
			return OutcomeFailure
		}

		next := resumable.Resume
		resume = &next
	}
}
