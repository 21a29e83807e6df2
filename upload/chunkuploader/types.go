// Package chunkuploader uploads large files to a remote append-session in fixed size blocks.
// Blocks are sent in parallel, completion is tracked as a contiguous low-water mark, and an
// interrupted transfer can be resumed from that mark without re-sending accepted bytes.
package chunkuploader

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AppendArg identifies where a block lands in a remote upload session.
type AppendArg struct {
	SessionID string
	// Offset is the absolute file offset of the first byte of the block.
	Offset uint64
	// Close marks the last block of the session. Only the closing block may be shorter than the
	// configured request size.
	Close bool
}

// CommitArg finalizes a remote upload session into a file.
type CommitArg struct {
	SessionID string
	// Offset is the total length of the uploaded file.
	Offset         uint64
	Path           string
	ClientModified time.Time
	Overwrite      bool
}

// MetadataKind tells what exists at a remote path.
type MetadataKind int

const (
	MetadataNotFound MetadataKind = iota
	MetadataFile
	MetadataFolder
	MetadataDeleted
)

func (k MetadataKind) String() string {
	switch k {
	case MetadataNotFound:
		return "not found"
	case MetadataFile:
		return "file"
	case MetadataFolder:
		return "folder"
	case MetadataDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Metadata describes a remote path. Size is only meaningful for files.
type Metadata struct {
	Kind MetadataKind
	Size uint64
}

// MetadataGetter looks up what exists at a remote path. A missing path is reported as
// MetadataNotFound, not as an error.
type MetadataGetter interface {
	GetMetadata(ctx context.Context, path string) (Metadata, error)
}

// SessionClient is the remote side of a chunked upload.
//
// Implementations report throttling with *RateLimitError and failures that retrying cannot fix with
// *PermanentError. Any other error is treated as transient.
type SessionClient interface {
	MetadataGetter
	// StartSession opens a session that will be committed to destPath.
	StartSession(ctx context.Context, destPath string) (string, error)
	AppendBlock(ctx context.Context, arg AppendArg, data []byte) error
	FinishSession(ctx context.Context, arg CommitArg) error
}

// Resume is the state needed to continue an interrupted upload.
type Resume struct {
	StartOffset uint64
	SessionID   string
}

// String renders the checkpoint as "<session id>,<offset>".
func (r Resume) String() string {
	return fmt.Sprintf("%s,%d", r.SessionID, r.StartOffset)
}

// ParseResume parses the "<session id>,<offset>" form produced by Resume.String.
func ParseResume(s string) (Resume, error) {
	i := strings.LastIndex(s, ",")
	if i < 0 {
		return Resume{}, errors.New("missing file offset")
	}
	sessionID, offsetStr := s[:i], s[i+1:]
	if sessionID == "" {
		return Resume{}, errors.New("missing session ID")
	}
	offset, err := strconv.ParseUint(offsetStr, 10, 64)
	if err != nil {
		return Resume{}, fmt.Errorf("invalid file offset %q: %w", offsetStr, err)
	}
	return Resume{StartOffset: offset, SessionID: sessionID}, nil
}

// RateLimitError is returned by a SessionClient when the remote asks the caller to slow down.
// Rate-limited requests are retried after RetryAfter without counting as a failed attempt.
type RateLimitError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s), retry after %s", e.Reason, e.RetryAfter)
}

// PermanentError marks a remote failure that retrying cannot fix. Systemic failures make the whole
// destination unusable (quota, size ceiling, revoked credentials), not just the current file.
type PermanentError struct {
	Err      error
	Systemic bool
}

func (e *PermanentError) Error() string {
	if e.Systemic {
		return fmt.Sprintf("systemic remote error: %s", e.Err)
	}
	return fmt.Sprintf("permanent remote error: %s", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// ResumableError is an interrupted upload that can continue from Resume.
type ResumableError struct {
	Resume Resume
	Err    error
}

func (e *ResumableError) Error() string {
	return fmt.Sprintf("upload interrupted at %s: %s", e.Resume, e.Err)
}

func (e *ResumableError) Unwrap() error { return e.Err }

// NonresumableError is a failed upload that has nothing to resume; the file should be skipped.
type NonresumableError struct {
	Err error
}

func (e *NonresumableError) Error() string {
	return e.Err.Error()
}

func (e *NonresumableError) Unwrap() error { return e.Err }

// SystemicError is a failed upload that makes the whole destination unusable.
type SystemicError struct {
	Err error
}

func (e *SystemicError) Error() string {
	return e.Err.Error()
}

func (e *SystemicError) Unwrap() error { return e.Err }

// fatal converts an error that ended an upload attempt with no resumable state.
func fatal(err error) error {
	var permanent *PermanentError
	if errors.As(err, &permanent) && permanent.Systemic {
		return &SystemicError{Err: err}
	}
	return &NonresumableError{Err: err}
}

// interrupted converts an error that ended an upload attempt after the session was established.
func interrupted(err error, checkpoint Resume) error {
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return fatal(err)
	}
	return &ResumableError{Resume: checkpoint, Err: err}
}
