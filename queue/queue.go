// Package queue holds pending actions and runs them one at a time on a single consumer.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/redundinator/config"
)

// DefaultPollInterval is how often an idle consumer looks at the queue.
const DefaultPollInterval = 2 * time.Second

// Handler runs one action.
type Handler func(ctx context.Context, action config.Action)

// Observer is notified whenever the number of pending actions changes.
type Observer interface {
	QueueLength(n int)
}

// Queue is a FIFO of actions. Any goroutine may enqueue; only one consumer may run.
type Queue struct {
	pollInterval time.Duration
	logger       log.Logger
	observer     Observer

	mu      sync.Mutex
	items   []config.Action
	current *config.Action
	wake    chan struct{}
}

// New ...
func New(logger log.Logger) *Queue {
	return &Queue{
		pollInterval: DefaultPollInterval,
		logger:       logger,
		observer:     noopObserver{},
		wake:         make(chan struct{}, 1),
	}
}

// WithPollInterval sets the idle poll interval and returns the queue.
func (q *Queue) WithPollInterval(d time.Duration) *Queue {
	q.pollInterval = d
	return q
}

// WithObserver registers a telemetry receiver and returns the queue.
func (q *Queue) WithObserver(o Observer) *Queue {
	q.observer = o
	return q
}

// Enqueue appends an action and wakes the consumer.
func (q *Queue) Enqueue(action config.Action) {
	q.mu.Lock()
	q.items = append(q.items, action)
	n := len(q.items)
	q.mu.Unlock()

	q.observer.QueueLength(n)
	q.logger.Debugf("Queued action: %s (%d pending)", action, n)

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Current returns the action being run, if any.
func (q *Queue) Current() (config.Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current == nil {
		return config.Action{}, false
	}
	return *q.current, true
}

// Pending returns a copy of the actions waiting to run, oldest first.
func (q *Queue) Pending() []config.Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]config.Action(nil), q.items...)
}

func (q *Queue) pop() (config.Action, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return config.Action{}, false
	}
	action := q.items[0]
	q.items = q.items[1:]
	q.current = &action
	n := len(q.items)
	q.mu.Unlock()

	q.observer.QueueLength(n)
	return action, true
}

func (q *Queue) done() {
	q.mu.Lock()
	q.current = nil
	q.mu.Unlock()
}

func (q *Queue) runOne(ctx context.Context, handler Handler) bool {
	action, ok := q.pop()
	if !ok {
		return false
	}
	defer q.done()

	q.logger.Infof("Running action: %s", action)
	handler(ctx, action)
	return true
}

// Run consumes the queue until ctx is cancelled, running actions in order. It returns ctx's error.
func (q *Queue) Run(ctx context.Context, handler Handler) error {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		for q.runOne(ctx, handler) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

// Drain runs queued actions until the queue is empty.
func (q *Queue) Drain(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !q.runOne(ctx, handler) {
			return nil
		}
	}
}

type noopObserver struct{}

func (noopObserver) QueueLength(int) {}
