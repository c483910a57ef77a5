package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"issueflow/internal/ports"
)

type recordingSink struct {
	mu    sync.Mutex
	items []ports.Notification
	err   error
	block chan struct{}
}

func (s *recordingSink) Deliver(_ context.Context, n ports.Notification) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, n)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func TestQueueDeliversToEverySink(t *testing.T) {
	var failed atomic.Int32
	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("chat api down")}
	q := NewQueue(4, time.Second, Hooks{Failed: func() { failed.Add(1) }}, bad, good)
	q.Start(context.Background())

	q.Notify(context.Background(), ports.Notification{Kind: "completion", Project: "web", IssueID: 1, Text: "done"})
	q.Close()

	if good.count() != 1 {
		t.Fatalf("good sink received %d notifications, want 1", good.count())
	}
	if failed.Load() != 1 {
		t.Fatalf("failed hook calls = %d, want 1", failed.Load())
	}
	if good.items[0].ID == "" || good.items[0].CreatedAt == "" {
		t.Fatalf("notification should get an id and timestamp: %+v", good.items[0])
	}
}

func TestQueueNeverBlocksCaller(t *testing.T) {
	var dropped atomic.Int32
	sink := &recordingSink{block: make(chan struct{})}
	q := NewQueue(1, time.Second, Hooks{Dropped: func() { dropped.Add(1) }}, sink)
	q.Start(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			q.Notify(context.Background(), ports.Notification{Kind: "k", IssueID: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Notify blocked on a stuck sink")
	}
	if dropped.Load() == 0 {
		t.Fatalf("expected drops with a stuck sink and a queue of one")
	}
	close(sink.block)
	q.Close()
}

func TestQueueCloseWithoutStartAndNotifyAfterClose(t *testing.T) {
	var dropped atomic.Int32
	sink := &recordingSink{}
	q := NewQueue(4, time.Second, Hooks{Dropped: func() { dropped.Add(1) }}, sink)

	closed := make(chan struct{})
	go func() {
		q.Close()
		q.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("Close() blocked on a queue that was never started")
	}

	q.Notify(context.Background(), ports.Notification{Kind: "completion", IssueID: 2})
	if dropped.Load() != 1 {
		t.Fatalf("dropped hook calls = %d, want 1 for a closed queue", dropped.Load())
	}
	q.Start(context.Background())
	if sink.count() != 0 {
		t.Fatalf("closed queue delivered %d notifications", sink.count())
	}
}

func TestNATSSubject(t *testing.T) {
	s := NewNATSSink(nil, "flow")
	got := s.Subject(ports.Notification{Project: "web.app", Kind: "merge conflict"})
	if got != "flow.web_app.merge_conflict" {
		t.Fatalf("Subject() = %q", got)
	}
}
