package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/redundinator/upload/chunkuploader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type attemptCall struct {
	destPath string
	resume   *chunkuploader.Resume
}

type scriptedAttempter struct {
	results []error
	calls   []attemptCall
}

func (a *scriptedAttempter) UploadFile(_ context.Context, _, destPath string, resume *chunkuploader.Resume) error {
	var r *chunkuploader.Resume
	if resume != nil {
		copied := *resume
		r = &copied
	}
	a.calls = append(a.calls, attemptCall{destPath: destPath, resume: r})

	if len(a.calls) > len(a.results) {
		return nil
	}
	return a.results[len(a.calls)-1]
}

type fakeMetadata map[string]chunkuploader.Metadata

func (m fakeMetadata) GetMetadata(_ context.Context, path string) (chunkuploader.Metadata, error) {
	if md, ok := m[path]; ok {
		return md, nil
	}
	return chunkuploader.Metadata{Kind: chunkuploader.MetadataNotFound}, nil
}

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return ctx.Err()
}

type countingObserver struct {
	outcomes []Outcome
	stalls   int
	progress int
}

func (o *countingObserver) FileFinished(outcome Outcome) { o.outcomes = append(o.outcomes, outcome) }
func (o *countingObserver) AttemptResumed(stalled bool) {
	if stalled {
		o.stalls++
	} else {
		o.progress++
	}
}

// deterministicPolicy produces the series [1, 2, 4, 0].
func deterministicPolicy() RetryPolicy {
	return RetryPolicy{Initial: 1, Multiplier: 2, MaxRetries: 3, MaxWait: 60, MaxTotalWait: 600, Jitter: 0}
}

func resumable(offset uint64) error {
	return &chunkuploader.ResumableError{
		Resume: chunkuploader.Resume{StartOffset: offset, SessionID: "sid"},
		Err:    errors.New("connection reset"),
	}
}

func writeExport(t *testing.T, name string, size int) string {
	t.Helper()
	pth := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(pth, make([]byte, size), 0644))
	return pth
}

func newTestSessionUploader(attempter Attempter, metadata fakeMetadata, sleeper *recordingSleeper, observer Observer) *SessionUploader {
	return NewSessionUploader(attempter, metadata, "/backups", log.NewLogger(),
		WithRetryPolicy(deterministicPolicy()),
		WithSleeper(sleeper),
		WithObserver(observer),
	)
}

func TestRetryPolicy_Series(t *testing.T) {
	series := deterministicPolicy().Series()
	assert.Equal(t, []float64{1, 2, 4, 0}, []float64(series))

	def := DefaultRetryPolicy().Series()
	require.LessOrEqual(t, len(def), 11)
	assert.Equal(t, 0.5, def[0])
	assert.Equal(t, 0.0, def[len(def)-1])
	assert.LessOrEqual(t, def.Total(), 600.0+1e-9)
}

func TestSessionUploader_Success(t *testing.T) {
	src := writeExport(t, "host_1.tar.zst.0", 10)
	attempter := &scriptedAttempter{}
	observer := &countingObserver{}

	outcome := newTestSessionUploader(attempter, fakeMetadata{}, &recordingSleeper{}, observer).UploadFile(context.Background(), src)

	assert.Equal(t, OutcomeSuccess, outcome)
	require.Len(t, attempter.calls, 1)
	assert.Equal(t, "/backups/host_1.tar.zst.0", attempter.calls[0].destPath)
	assert.Nil(t, attempter.calls[0].resume)
	assert.Equal(t, []Outcome{OutcomeSuccess}, observer.outcomes)
}

func TestSessionUploader_StallEscalatesProgressResets(t *testing.T) {
	src := writeExport(t, "host_1.tar.zst.0", 10)
	attempter := &scriptedAttempter{results: []error{
		resumable(8),  // first failure: index 0
		resumable(8),  // stalled: index 1
		resumable(8),  // stalled: index 2
		resumable(16), // progress: index 0
		resumable(16), // stalled: index 1
		nil,
	}}
	sleeper := &recordingSleeper{}
	observer := &countingObserver{}

	outcome := newTestSessionUploader(attempter, fakeMetadata{}, sleeper, observer).UploadFile(context.Background(), src)

	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, time.Second, 2 * time.Second}, sleeper.waits)
	assert.Equal(t, 3, observer.stalls)
	assert.Equal(t, 2, observer.progress)

	require.Len(t, attempter.calls, 6)
	assert.Nil(t, attempter.calls[0].resume)
	assert.Equal(t, uint64(8), attempter.calls[1].resume.StartOffset)
	assert.Equal(t, uint64(16), attempter.calls[4].resume.StartOffset)
	assert.Equal(t, "sid", attempter.calls[5].resume.SessionID)
}

func TestSessionUploader_GivesUpWhenStuck(t *testing.T) {
	src := writeExport(t, "host_1.tar.zst.0", 10)
	var results []error
	for i := 0; i < 20; i++ {
		results = append(results, resumable(4))
	}
	attempter := &scriptedAttempter{results: results}
	sleeper := &recordingSleeper{}

	outcome := newTestSessionUploader(attempter, fakeMetadata{}, sleeper, &countingObserver{}).UploadFile(context.Background(), src)

	assert.Equal(t, OutcomeFailure, outcome)
	// the fifth failure at the same offset runs past the end of [1, 2, 4, 0]
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 0}, sleeper.waits)
	assert.Len(t, attempter.calls, 5)
}

func TestSessionUploader_NonresumableAndSystemic(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{name: "nonresumable", err: &chunkuploader.NonresumableError{Err: errors.New("open failed")}, want: OutcomeFailure},
		{name: "systemic", err: &chunkuploader.SystemicError{Err: errors.New("quota")}, want: OutcomeSystemicFailure},
		{name: "unclassified", err: errors.New("boom"), want: OutcomeFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := writeExport(t, "host_1.tar.zst.0", 10)
			attempter := &scriptedAttempter{results: []error{tt.err}}
			sleeper := &recordingSleeper{}

			outcome := newTestSessionUploader(attempter, fakeMetadata{}, sleeper, &countingObserver{}).UploadFile(context.Background(), src)

			assert.Equal(t, tt.want, outcome)
			assert.Len(t, attempter.calls, 1)
			assert.Empty(t, sleeper.waits)
		})
	}
}

func TestSessionUploader_DestinationResolution(t *testing.T) {
	src := writeExport(t, "host_1.tar.zst.0", 10)

	t.Run("matching file is skipped", func(t *testing.T) {
		attempter := &scriptedAttempter{}
		metadata := fakeMetadata{"/backups/host_1.tar.zst.0": {Kind: chunkuploader.MetadataFile, Size: 10}}

		outcome := newTestSessionUploader(attempter, metadata, &recordingSleeper{}, &countingObserver{}).UploadFile(context.Background(), src)

		assert.Equal(t, OutcomeSkipped, outcome)
		assert.Empty(t, attempter.calls)
	})

	t.Run("different file is replaced", func(t *testing.T) {
		attempter := &scriptedAttempter{}
		metadata := fakeMetadata{"/backups/host_1.tar.zst.0": {Kind: chunkuploader.MetadataFile, Size: 3}}

		outcome := newTestSessionUploader(attempter, metadata, &recordingSleeper{}, &countingObserver{}).UploadFile(context.Background(), src)

		assert.Equal(t, OutcomeSuccess, outcome)
		require.Len(t, attempter.calls, 1)
		assert.Equal(t, "/backups/host_1.tar.zst.0", attempter.calls[0].destPath)
	})

	t.Run("unexpected metadata fails the file", func(t *testing.T) {
		attempter := &scriptedAttempter{}
		metadata := fakeMetadata{"/backups/host_1.tar.zst.0": {Kind: chunkuploader.MetadataDeleted}}

		outcome := newTestSessionUploader(attempter, metadata, &recordingSleeper{}, &countingObserver{}).UploadFile(context.Background(), src)

		assert.Equal(t, OutcomeFailure, outcome)
		assert.Empty(t, attempter.calls)
	})
}

func TestSessionUploader_MissingFile(t *testing.T) {
	attempter := &scriptedAttempter{}

	outcome := newTestSessionUploader(attempter, fakeMetadata{}, &recordingSleeper{}, &countingObserver{}).UploadFile(context.Background(), "/nonexistent/host_1.tar.zst.0")

	assert.Equal(t, OutcomeFailure, outcome)
	assert.Empty(t, attempter.calls)
}

func TestSessionUploader_Cancelled(t *testing.T) {
	src := writeExport(t, "host_1.tar.zst.0", 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempter := &scriptedAttempter{results: []error{resumable(4)}}

	outcome := newTestSessionUploader(attempter, fakeMetadata{}, &recordingSleeper{}, &countingObserver{}).UploadFile(ctx, src)

	assert.Equal(t, OutcomeFailure, outcome)
	assert.Len(t, attempter.calls, 1)
}
