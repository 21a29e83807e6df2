package chunkuploader

import "sync"

// CompletionTracker keeps track of the offset up to which a file is completely uploaded.
//
// Blocks can finish out of order, so an error on a given block is not necessarily the right place
// to resume from: there may be gaps before it. Blocks that finish ahead of the low-water mark are
// parked until the gap behind them is filled.
// Safe for concurrent use.
type CompletionTracker struct {
	mu           sync.Mutex
	completeUpTo uint64
	pending      map[uint64]uint64
}

// NewCompletionTracker creates a tracker that assumes everything before completeUpTo is already
// uploaded. Use 0 for a fresh upload, or the checkpoint offset when resuming.
func NewCompletionTracker(completeUpTo uint64) *CompletionTracker {
	return &CompletionTracker{
		completeUpTo: completeUpTo,
		pending:      make(map[uint64]uint64),
	}
}

// CompleteBlock marks the block starting at offset as completely uploaded.
func (t *CompletionTracker) CompleteBlock(offset, length uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case offset == t.completeUpTo:
		t.completeUpTo += length
		for {
			next, ok := t.pending[t.completeUpTo]
			if !ok {
				break
			}
			delete(t.pending, t.completeUpTo)
			t.completeUpTo += next
		}
	case offset > t.completeUpTo:
		t.pending[offset] = length
	default:
		// already covered by the low-water mark
	}
}

// CompleteUpTo returns the offset below which every byte is known to be uploaded.
func (t *CompletionTracker) CompleteUpTo() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completeUpTo
}
