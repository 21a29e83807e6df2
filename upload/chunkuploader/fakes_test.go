package chunkuploader

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu sync.Mutex

	sessionID string
	startErr  error
	appendFn  func(arg AppendArg, data []byte) error
	finishFn  func(arg CommitArg) error
	metadata  map[string]Metadata
	lookupErr map[string]error

	starts     int
	startPaths []string
	attempts   []AppendArg
	appended   map[uint64][]byte
	closes     []AppendArg
	finishes   []CommitArg
	lookups    []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		sessionID: "session-1",
		appended:  map[uint64][]byte{},
		metadata:  map[string]Metadata{},
		lookupErr: map[string]error{},
	}
}

func (c *fakeClient) StartSession(_ context.Context, destPath string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	c.startPaths = append(c.startPaths, destPath)
	if c.startErr != nil {
		return "", c.startErr
	}
	return c.sessionID, nil
}

func (c *fakeClient) AppendBlock(_ context.Context, arg AppendArg, data []byte) error {
	c.mu.Lock()
	c.attempts = append(c.attempts, arg)
	fn := c.appendFn
	c.mu.Unlock()

	if fn != nil {
		if err := fn(arg, data); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.appended[arg.Offset] = append([]byte(nil), data...)
	if arg.Close {
		c.closes = append(c.closes, arg)
	}
	return nil
}

func (c *fakeClient) FinishSession(_ context.Context, arg CommitArg) error {
	c.mu.Lock()
	c.finishes = append(c.finishes, arg)
	fn := c.finishFn
	c.mu.Unlock()

	if fn != nil {
		return fn(arg)
	}
	return nil
}

func (c *fakeClient) GetMetadata(_ context.Context, path string) (Metadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups = append(c.lookups, path)
	if err, ok := c.lookupErr[path]; ok {
		return Metadata{}, err
	}
	if m, ok := c.metadata[path]; ok {
		return m, nil
	}
	return Metadata{Kind: MetadataNotFound}, nil
}

func (c *fakeClient) attemptOffsets() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var offsets []uint64
	for _, a := range c.attempts {
		offsets = append(offsets, a.Offset)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

func (c *fakeClient) attemptsAt(offset uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, a := range c.attempts {
		if a.Offset == offset {
			n++
		}
	}
	return n
}

// assembled concatenates the accepted appends starting at from.
func (c *fakeClient) assembled(from uint64) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []byte
	offset := from
	for {
		data, ok := c.appended[offset]
		if !ok {
			return out
		}
		out = append(out, data...)
		if len(data) == 0 {
			return out
		}
		offset += uint64(len(data))
	}
}

type fakeSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *fakeSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func testConfig() Config {
	return Config{
		Parallelism:      3,
		BlockSize:        4,
		BlocksPerRequest: 2,
		MaxRetryPerBlock: 3,
		CommitAttempts:   3,
		CommitRetryWait:  0,
	}
}

func newTestUploader(config Config, client SessionClient, sleeper Sleeper) *Uploader {
	return New(config, client, log.NewLogger(), WithSleeper(sleeper))
}

func writeTestFile(t *testing.T, size int) (string, []byte) {
	t.Helper()

	content := make([]byte, size)
	for i := range content {
		content[i] = byte('a' + i%26)
	}

	pth := filepath.Join(t.TempDir(), "export_1700000000.tar.zst.0")
	require.NoError(t, os.WriteFile(pth, content, 0644))
	return pth, content
}
