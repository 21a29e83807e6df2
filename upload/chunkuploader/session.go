package chunkuploader

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Session is the shared state of one upload attempt: the remote session, where this attempt
// started in the file, and which blocks have been accepted since.
type Session struct {
	ID          string
	StartOffset uint64
	FileSize    uint64

	bytesTransferred atomic.Uint64
	completion       *CompletionTracker
}

// NewSession opens a fresh remote session for a file of the given size.
func NewSession(ctx context.Context, client SessionClient, destPath string, fileSize uint64) (*Session, error) {
	id, err := client.StartSession(ctx, destPath)
	if err != nil {
		return nil, fmt.Errorf("start upload session: %w", err)
	}

	return &Session{
		ID:         id,
		FileSize:   fileSize,
		completion: NewCompletionTracker(0),
	}, nil
}

// ResumeSession reconstructs an interrupted session from its checkpoint without talking to the
// remote.
func ResumeSession(resume Resume, fileSize uint64) *Session {
	return &Session{
		ID:          resume.SessionID,
		StartOffset: resume.StartOffset,
		FileSize:    fileSize,
		completion:  NewCompletionTracker(resume.StartOffset),
	}
}

// AppendArg returns the argument to append a block found at blockOffset bytes into this attempt.
func (s *Session) AppendArg(blockOffset uint64) AppendArg {
	return AppendArg{
		SessionID: s.ID,
		Offset:    s.StartOffset + blockOffset,
	}
}

// CommitArg returns the argument to commit the whole file at destPath with the given
// modification time, overwriting whatever is there.
func (s *Session) CommitArg(destPath string, modTime time.Time) CommitArg {
	return CommitArg{
		SessionID:      s.ID,
		Offset:         s.FileSize,
		Path:           destPath,
		ClientModified: modTime.UTC().Truncate(time.Second),
		Overwrite:      true,
	}
}

// MarkBlockUploaded records that the block found at blockOffset bytes into this attempt was
// accepted by the remote.
func (s *Session) MarkBlockUploaded(blockOffset, blockLen uint64) {
	s.completion.CompleteBlock(s.StartOffset+blockOffset, blockLen)
}

// CompleteUpTo returns the offset the file is completely uploaded to. The upload can be resumed
// from there if something goes wrong.
func (s *Session) CompleteUpTo() uint64 {
	return s.completion.CompleteUpTo()
}

// Checkpoint returns the resume state for the current low-water mark.
func (s *Session) Checkpoint() Resume {
	return Resume{
		StartOffset: s.CompleteUpTo(),
		SessionID:   s.ID,
	}
}

// BytesTransferred returns the number of bytes appended during this attempt.
func (s *Session) BytesTransferred() uint64 {
	return s.bytesTransferred.Load()
}

func (s *Session) addTransferred(n uint64) uint64 {
	return s.bytesTransferred.Add(n)
}
