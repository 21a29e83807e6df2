package chunkuploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"golang.org/x/sync/errgroup"
)

// Uploader uploads files through a SessionClient with parallel block appends and per-block retry.
type Uploader struct {
	config   Config
	client   SessionClient
	logger   log.Logger
	sleeper  Sleeper
	observer Observer
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithSleeper replaces the timer used for rate-limit and commit retry waits.
func WithSleeper(s Sleeper) Option {
	return func(u *Uploader) {
		u.sleeper = s
	}
}

// WithObserver registers a telemetry receiver.
func WithObserver(o Observer) Option {
	return func(u *Uploader) {
		u.observer = o
	}
}

// New creates a new Uploader with the given configuration.
func New(config Config, client SessionClient, logger log.Logger, opts ...Option) *Uploader {
	u := &Uploader{
		config:   config.withDefaults(),
		client:   client,
		logger:   logger,
		sleeper:  ContextSleeper{},
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Client returns the remote the uploader talks to.
func (u *Uploader) Client() SessionClient {
	return u.client
}

// UploadFile runs one upload attempt of sourcePath to destPath. A nil resume opens a fresh session.
//
// The returned error is nil on success, otherwise one of *ResumableError (retry with the carried
// checkpoint), *NonresumableError (give up on this file) or *SystemicError (give up on the
// destination).
func (u *Uploader) UploadFile(ctx context.Context, sourcePath, destPath string, resume *Resume) error {
	file, err := os.Open(sourcePath)
	if err != nil {
		return &NonresumableError{Err: fmt.Errorf("open source file: %w", err)}
	}
	defer func() {
		if err := file.Close(); err != nil {
			u.logger.Warnf("Failed to close %s: %s", sourcePath, err)
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return &NonresumableError{Err: fmt.Errorf("stat source file: %w", err)}
	}
	fileSize := uint64(info.Size())

	var session *Session
	if resume != nil {
		if resume.StartOffset > fileSize {
			return &NonresumableError{Err: fmt.Errorf("resume offset %d is past the end of the %d byte file", resume.StartOffset, fileSize)}
		}
		if _, err := file.Seek(int64(resume.StartOffset), io.SeekStart); err != nil {
			return &NonresumableError{Err: fmt.Errorf("seek source file to resume offset %d: %w", resume.StartOffset, err)}
		}
		session = ResumeSession(*resume, fileSize)
		u.logger.Printf("Resuming upload of %s: %s", sourcePath, resume)
	} else {
		session, err = NewSession(ctx, u.client, destPath, fileSize)
		if err != nil {
			return fatal(err)
		}
		u.logger.Debugf("Started upload session %s for %s", session.ID, sourcePath)
	}

	prog := newProgress(session, u.config.Parallelism, u.logger, u.observer)

	last, err := u.uploadBlocks(ctx, file, session, prog)
	if err != nil {
		checkpoint := session.Checkpoint()
		u.logger.Warnf("Upload of %s interrupted, complete up to %d: %s", sourcePath, checkpoint.StartOffset, err)
		return interrupted(err, checkpoint)
	}

	closeArg := session.AppendArg(last.offset)
	closeArg.Close = true
	if err := u.uploadBlockWithRetry(ctx, session, closeArg, last, prog); err != nil {
		u.logger.Warnf("Failed to close upload session %s, trying to commit anyway: %s", session.ID, err)
	}

	commit := session.CommitArg(destPath, info.ModTime())
	if err := u.commit(ctx, commit); err != nil {
		u.logger.Errorf("Failed to commit upload session %s to %s: %s", session.ID, destPath, err)
		return interrupted(err, session.Checkpoint())
	}

	u.logger.Donef("Uploaded %s to %s", sourcePath, destPath)
	return nil
}

// uploadBlocks reads the file from the current position and appends every full request-sized
// chunk in parallel. The trailing short chunk is returned unsent, to be appended as the closing
// block once everything before it was dispatched.
func (u *Uploader) uploadBlocks(ctx context.Context, r io.Reader, session *Session, prog *progress) (block, error) {
	requestSize := u.config.RequestSize()
	reader := newBlockReader(r, requestSize)

	// An exact multiple of the request size closes with an empty block at the end of the file.
	last := block{offset: session.FileSize - session.StartOffset}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.config.Parallelism)

	var readErr error
	for gctx.Err() == nil {
		b, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = err
			break
		}
		if len(b.data) < requestSize {
			last = b
			break
		}

		g.Go(func() error {
			return u.uploadBlockWithRetry(gctx, session, session.AppendArg(b.offset), b, prog)
		})
	}

	if err := g.Wait(); err != nil {
		return block{}, err
	}
	if readErr != nil {
		return block{}, readErr
	}
	if err := ctx.Err(); err != nil {
		return block{}, err
	}

	return last, nil
}

func (u *Uploader) uploadBlockWithRetry(ctx context.Context, session *Session, arg AppendArg, b block, prog *progress) error {
	var lastErr error
	for attempt := 1; attempt <= u.config.MaxRetryPerBlock; {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("append block at offset %d cancelled: %w", arg.Offset, err)
		}

		start := time.Now()
		err := u.client.AppendBlock(ctx, arg, b.data)
		if err == nil {
			session.MarkBlockUploaded(b.offset, uint64(len(b.data)))
			prog.blockDone(len(b.data), time.Since(start))
			return nil
		}

		var rateLimit *RateLimitError
		if errors.As(err, &rateLimit) {
			u.observer.BlockFailed(BlockFailureRateLimited)
			u.logger.Warnf("Rate limited (%s) at offset %d, waiting %s", rateLimit.Reason, arg.Offset, rateLimit.RetryAfter)
			if err := u.sleeper.Sleep(ctx, rateLimit.RetryAfter); err != nil {
				return fmt.Errorf("append block at offset %d cancelled: %w", arg.Offset, err)
			}
			continue
		}

		var permanent *PermanentError
		if errors.As(err, &permanent) {
			u.observer.BlockFailed(BlockFailurePermanent)
			return fmt.Errorf("append block at offset %d: %w", arg.Offset, err)
		}

		u.observer.BlockFailed(BlockFailureRetry)
		u.logger.Warnf("Block at offset %d attempt %d/%d failed: %s", arg.Offset, attempt, u.config.MaxRetryPerBlock, err)
		lastErr = err
		attempt++
	}

	u.observer.BlockFailed(BlockFailureExhausted)
	return fmt.Errorf("append block at offset %d failed after %d attempts: %w", arg.Offset, u.config.MaxRetryPerBlock, lastErr)
}

func (u *Uploader) commit(ctx context.Context, arg CommitArg) error {
	// Waits go through the sleeper so a canceled context cuts them short.
	return retry.Times(uint(u.config.CommitAttempts - 1)).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 && u.config.CommitRetryWait > 0 {
			if err := u.sleeper.Sleep(ctx, u.config.CommitRetryWait); err != nil {
				return err, true
			}
		}
		if err := ctx.Err(); err != nil {
			return err, true
		}

		err := u.client.FinishSession(ctx, arg)
		if err == nil {
			return nil, false
		}

		var permanent *PermanentError
		if errors.As(err, &permanent) {
			return err, true
		}

		u.logger.Warnf("Finishing upload session %s failed (attempt %d/%d): %s", arg.SessionID, attempt+1, u.config.CommitAttempts, err)
		return err, false
	})
}
