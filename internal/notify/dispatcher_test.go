package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ledgerd/internal/amqp"
)

type fakeInbox struct {
	entries []string
	err     error
}

func (f *fakeInbox) AddNotification(_ context.Context, title, body string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.entries = append(f.entries, title+": "+body)
	return int64(len(f.entries)), nil
}

type fakeQueue struct {
	events []*amqp.NotificationEvent
	err    error
}

func (f *fakeQueue) PublishNotification(_ context.Context, ev *amqp.NotificationEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func TestDispatcher_PassCompleted(t *testing.T) {
	inbox := &fakeInbox{}
	queue := &fakeQueue{}
	d := NewDispatcher(inbox, queue)
	ranAt := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

	d.PassCompleted(context.Background(), 3, ranAt)

	if len(inbox.entries) != 1 {
		t.Fatalf("inbox entries = %d, want 1", len(inbox.entries))
	}
	if !strings.Contains(inbox.entries[0], "3 scheduled transactions") {
		t.Errorf("inbox entry = %q, want plural summary", inbox.entries[0])
	}

	if len(queue.events) != 1 {
		t.Fatalf("queue events = %d, want 1", len(queue.events))
	}
	ev := queue.events[0]
	if ev.Executed != 3 {
		t.Errorf("event executed = %d, want 3", ev.Executed)
	}
	if !ev.RanAt.Equal(ranAt) {
		t.Errorf("event ran_at = %v, want %v", ev.RanAt, ranAt)
	}
	if ev.InboxID != 1 {
		t.Errorf("event inbox_id = %d, want the written entry's id", ev.InboxID)
	}
}

func TestDispatcher_SilentOnEmptyPass(t *testing.T) {
	inbox := &fakeInbox{}
	queue := &fakeQueue{}
	d := NewDispatcher(inbox, queue)

	d.PassCompleted(context.Background(), 0, time.Now())

	if len(inbox.entries) != 0 || len(queue.events) != 0 {
		t.Errorf("empty pass produced notifications: inbox=%d queue=%d",
			len(inbox.entries), len(queue.events))
	}
}

func TestDispatcher_SingularBody(t *testing.T) {
	inbox := &fakeInbox{}
	d := NewDispatcher(inbox, nil)

	d.PassCompleted(context.Background(), 1, time.Now())

	if len(inbox.entries) != 1 {
		t.Fatalf("inbox entries = %d, want 1", len(inbox.entries))
	}
	if !strings.Contains(inbox.entries[0], "A scheduled transaction") {
		t.Errorf("inbox entry = %q, want singular summary", inbox.entries[0])
	}
}

func TestDispatcher_InboxFailureDoesNotStopQueue(t *testing.T) {
	inbox := &fakeInbox{err: errors.New("disk full")}
	queue := &fakeQueue{}
	d := NewDispatcher(inbox, queue)

	d.PassCompleted(context.Background(), 2, time.Now())

	if len(queue.events) != 1 {
		t.Fatalf("queue events = %d, want 1 despite inbox failure", len(queue.events))
	}
	if queue.events[0].InboxID != 0 {
		t.Errorf("event inbox_id = %d, want 0 when the inbox write failed", queue.events[0].InboxID)
	}
}

func TestDispatcher_QueueFailureIsSwallowed(t *testing.T) {
	inbox := &fakeInbox{}
	queue := &fakeQueue{err: errors.New("connection refused")}
	d := NewDispatcher(inbox, queue)

	// Must not panic or propagate; the pass already committed its work.
	d.PassCompleted(context.Background(), 1, time.Now())

	if len(inbox.entries) != 1 {
		t.Errorf("inbox entries = %d, want 1", len(inbox.entries))
	}
}

type failingNotifier struct{ calls int }

func (n *failingNotifier) Notify(context.Context, string, string) error {
	n.calls++
	return errors.New("push gateway down")
}

func TestMulti_AttemptsEverySink(t *testing.T) {
	a := &failingNotifier{}
	b := &failingNotifier{}

	err := Multi{a, nil, b}.Notify(context.Background(), "t", "b")
	if err == nil {
		t.Fatal("Notify() error = nil, want first sink error")
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("calls = (%d, %d), want every sink attempted", a.calls, b.calls)
	}
}
