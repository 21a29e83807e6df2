package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/redundinator/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lengthRecorder struct {
	mu      sync.Mutex
	lengths []int
}

func (r *lengthRecorder) QueueLength(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lengths = append(r.lengths, n)
}

func TestQueue_EnqueueAndPending(t *testing.T) {
	recorder := &lengthRecorder{}
	q := New(log.NewLogger()).WithObserver(recorder)

	q.Enqueue(config.Action{Source: "web"})
	q.Enqueue(config.Action{Source: "db"})

	assert.Equal(t, []config.Action{{Source: "web"}, {Source: "db"}}, q.Pending())
	_, running := q.Current()
	assert.False(t, running)
	assert.Equal(t, []int{1, 2}, recorder.lengths)
}

func TestQueue_Drain(t *testing.T) {
	q := New(log.NewLogger())
	q.Enqueue(config.Action{Source: "web"})
	q.Enqueue(config.Action{Source: "db"})

	var handled []string
	err := q.Drain(context.Background(), func(_ context.Context, action config.Action) {
		current, ok := q.Current()
		require.True(t, ok)
		assert.Equal(t, action, current)
		handled = append(handled, action.Source)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"web", "db"}, handled)
	assert.Empty(t, q.Pending())
	_, running := q.Current()
	assert.False(t, running)
}

func TestQueue_DrainCancelled(t *testing.T) {
	q := New(log.NewLogger())
	q.Enqueue(config.Action{Source: "web"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := q.Drain(ctx, func(context.Context, config.Action) {
		t.Fatal("handler must not run")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, q.Pending(), 1)
}

func TestQueue_RunWakesOnEnqueue(t *testing.T) {
	q := New(log.NewLogger()).WithPollInterval(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan config.Action)
	done := make(chan error)
	go func() {
		done <- q.Run(ctx, func(_ context.Context, action config.Action) {
			handled <- action
		})
	}()

	q.Enqueue(config.Action{Source: "web"})

	select {
	case action := <-handled:
		assert.Equal(t, "web", action.Source)
	case <-time.After(5 * time.Second):
		t.Fatal("action was not handled")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
