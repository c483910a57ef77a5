// Package notify delivers best-effort notifications on their own goroutine so
// a slow or failing transport never blocks the orchestrator.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/errs"
	"issueflow/internal/ports"
)

// Hooks observe queue outcomes. Nil funcs are skipped.
type Hooks struct {
	Queued  func()
	Failed  func()
	Dropped func()
}

type Queue struct {
	sinks   []ports.NotificationSink
	ch      chan ports.Notification
	hooks   Hooks
	timeout time.Duration

	// mu guards started and closed; Notify holds it shared while sending so
	// Close never closes ch under a sender.
	mu      sync.RWMutex
	started bool
	closed  bool
	done    chan struct{}
}

var _ ports.Notifier = (*Queue)(nil)

func NewQueue(size int, timeout time.Duration, hooks Hooks, sinks ...ports.NotificationSink) *Queue {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Queue{
		sinks:   sinks,
		ch:      make(chan ports.Notification, size),
		hooks:   hooks,
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Notify enqueues n and returns immediately. A full or closed queue drops n.
func (q *Queue) Notify(ctx context.Context, n ports.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt == "" {
		n.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		call(q.hooks.Dropped)
		logging.Debug(logging.WithAttrs(ctx, slog.String("component", "notify.queue")),
			"notification queue closed, dropping", slog.String("kind", n.Kind), slog.Int("issue_id", n.IssueID))
		return
	}
	select {
	case q.ch <- n:
		call(q.hooks.Queued)
	default:
		call(q.hooks.Dropped)
		logging.Warn(logging.WithAttrs(ctx, slog.String("component", "notify.queue")),
			"notification queue full, dropping", slog.String("kind", n.Kind), slog.Int("issue_id", n.IssueID))
	}
}

// Start runs the delivery loop until Close is called. Starting a closed queue
// does nothing.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	go q.run(ctx)
}

// Close stops accepting work. When the delivery loop runs, Close waits for
// queued notifications to drain; otherwise they are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	started := q.started
	q.mu.Unlock()
	if started {
		<-q.done
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	logCtx := logging.WithAttrs(ctx, slog.String("component", "notify.queue"))
	for n := range q.ch {
		q.deliver(logCtx, n)
	}
}

func (q *Queue) deliver(ctx context.Context, n ports.Notification) {
	for _, sink := range q.sinks {
		// Delivery outlives the caller's context but not the timeout.
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
		err := sink.Deliver(sendCtx, n)
		cancel()
		if err != nil {
			call(q.hooks.Failed)
			logging.Warn(ctx, "notification delivery failed",
				slog.String("notification_id", n.ID),
				slog.String("kind", n.Kind),
				slog.Int("issue_id", n.IssueID),
				slog.Any("err", errs.Loggable(err)),
			)
		}
	}
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
