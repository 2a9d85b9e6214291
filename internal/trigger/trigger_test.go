package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"ledgerd/internal/core"
	"ledgerd/internal/services"
)

// chainStore records the order of store calls relative to wake
// resubmissions, so tests can assert the chain is re-armed before any work
// happens.
type chainStore struct {
	mu     sync.Mutex
	events *[]string
	rules  []core.Rule
}

func (s *chainStore) DueRules(_ context.Context, _ time.Time) ([]core.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.events = append(*s.events, "pass")
	return s.rules, nil
}

func (s *chainStore) MaterializeRule(_ context.Context, rule core.Rule, _, nextDue time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == rule.ID {
			s.rules[i].NextDue = nextDue
		}
	}
	return rule.ID, nil
}

func (s *chainStore) DeactivateRule(_ context.Context, _ int64) error { return nil }

// recordingScheduler captures submissions without firing them.
type recordingScheduler struct {
	mu       sync.Mutex
	events   *[]string
	earliest []time.Time
	handlers []Handler
	err      error
}

func (s *recordingScheduler) Submit(earliest time.Time, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	*s.events = append(*s.events, "submit")
	s.earliest = append(s.earliest, earliest)
	s.handlers = append(s.handlers, h)
	return nil
}

func (s *recordingScheduler) take(t *testing.T) Handler {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handlers) == 0 {
		t.Fatal("no pending wake-up submitted")
	}
	h := s.handlers[0]
	s.handlers = s.handlers[1:]
	return h
}

func TestStartBackground_SeedsChain(t *testing.T) {
	var events []string
	sched := &recordingScheduler{events: &events}
	tr := New(services.NewProcessor(&chainStore{events: &events}, nil), sched, time.Hour, 0)

	before := time.Now()
	if err := tr.StartBackground(); err != nil {
		t.Fatalf("StartBackground() error = %v", err)
	}

	sched.mu.Lock()
	defer sched.mu.Unlock()
	if len(sched.earliest) != 1 {
		t.Fatalf("submissions = %d, want 1", len(sched.earliest))
	}
	if got := sched.earliest[0]; got.Before(before.Add(time.Hour)) {
		t.Errorf("earliest = %v, want at least one interval out", got)
	}
}

func TestStartBackground_NoScheduler(t *testing.T) {
	var events []string
	tr := New(services.NewProcessor(&chainStore{events: &events}, nil), nil, time.Hour, 0)

	if err := tr.StartBackground(); err == nil {
		t.Fatal("StartBackground() error = nil, want ErrSchedulingUnavailable")
	}
}

func TestHandleWake_ResubmitsBeforeRunningPass(t *testing.T) {
	var events []string
	sched := &recordingScheduler{events: &events}
	store := &chainStore{events: &events}
	tr := New(services.NewProcessor(store, nil), sched, time.Hour, 0)

	if err := tr.StartBackground(); err != nil {
		t.Fatalf("StartBackground() error = %v", err)
	}

	// Fire the pending wake-up by hand; the handler must re-arm the chain
	// before touching the store.
	sched.take(t)(context.Background())

	want := []string{"submit", "submit", "pass"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestHandleWake_PassRunsEvenWhenResubmissionFails(t *testing.T) {
	var events []string
	sched := &recordingScheduler{events: &events}
	store := &chainStore{events: &events}
	tr := New(services.NewProcessor(store, nil), sched, time.Hour, 0)

	if err := tr.StartBackground(); err != nil {
		t.Fatalf("StartBackground() error = %v", err)
	}
	h := sched.take(t)

	// The scheduler goes away between wake-ups. The chain ends, but the
	// current pass still runs; foreground triggers remain the fallback.
	sched.mu.Lock()
	sched.err = context.Canceled
	sched.mu.Unlock()

	h(context.Background())

	found := false
	for _, e := range events {
		if e == "pass" {
			found = true
		}
	}
	if !found {
		t.Errorf("events = %v, want a pass despite failed resubmission", events)
	}
}

// blockingStore parks DueRules until the pass context expires, recording
// the deadline the pass ran under.
type blockingStore struct {
	mu          sync.Mutex
	deadline    time.Time
	hadDeadline bool
}

func (s *blockingStore) DueRules(ctx context.Context, _ time.Time) ([]core.Rule, error) {
	s.mu.Lock()
	s.deadline, s.hadDeadline = ctx.Deadline()
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *blockingStore) MaterializeRule(context.Context, core.Rule, time.Time, time.Time) (int64, error) {
	return 0, nil
}

func (s *blockingStore) DeactivateRule(context.Context, int64) error { return nil }

func TestHandleWake_AppliesExecutionBudget(t *testing.T) {
	var events []string
	sched := &recordingScheduler{events: &events}
	store := &blockingStore{}
	budget := 50 * time.Millisecond
	tr := New(services.NewProcessor(store, nil), sched, time.Hour, budget)

	// A store that never returns on its own: only the budget deadline can
	// end this pass.
	start := time.Now()
	done := make(chan struct{})
	go func() {
		tr.handleWake(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("background pass was not cut off by its execution budget")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if !store.hadDeadline {
		t.Fatal("background pass ran without a deadline")
	}
	if got := store.deadline.Sub(start); got > budget+time.Second {
		t.Errorf("pass deadline %v after start, want about %v", got, budget)
	}

	// The chain was re-armed even though the pass itself timed out.
	sched.mu.Lock()
	submissions := len(sched.earliest)
	sched.mu.Unlock()
	if submissions != 1 {
		t.Errorf("submissions = %d, want 1", submissions)
	}
}

// deadlineRecordingStore records whether the pass context carried a deadline and
// returns an empty due set.
type deadlineRecordingStore struct {
	hadDeadline bool
}

func (s *deadlineRecordingStore) DueRules(ctx context.Context, _ time.Time) ([]core.Rule, error) {
	_, s.hadDeadline = ctx.Deadline()
	return nil, nil
}

func (s *deadlineRecordingStore) MaterializeRule(context.Context, core.Rule, time.Time, time.Time) (int64, error) {
	return 0, nil
}

func (s *deadlineRecordingStore) DeactivateRule(context.Context, int64) error { return nil }

func TestHandleWake_ZeroBudgetRunsUnbounded(t *testing.T) {
	var events []string
	sched := &recordingScheduler{events: &events}
	store := &deadlineRecordingStore{}
	tr := New(services.NewProcessor(store, nil), sched, time.Hour, 0)

	tr.handleWake(context.Background())

	if store.hadDeadline {
		t.Error("pass context carries a deadline with no budget configured")
	}
	sched.mu.Lock()
	defer sched.mu.Unlock()
	if len(sched.earliest) != 1 {
		t.Errorf("submissions = %d, want 1", len(sched.earliest))
	}
}

func TestRunForeground(t *testing.T) {
	var events []string
	due := time.Now().Add(-time.Hour)
	store := &chainStore{
		events: &events,
		rules: []core.Rule{{
			ID:         1,
			Name:       "Rent",
			Amount:     core.Money{Cents: 120000},
			CategoryID: 1,
			AccountID:  1,
			Frequency:  core.Monthly,
			StartAt:    due,
			IsActive:   true,
			NextDue:    due,
		}},
	}
	tr := New(services.NewProcessor(store, nil), nil, time.Hour, 0)

	executed, err := tr.RunForeground(context.Background())
	if err != nil {
		t.Fatalf("RunForeground() error = %v", err)
	}
	if executed != 1 {
		t.Errorf("RunForeground() executed = %d, want 1", executed)
	}
}

func TestTimerScheduler_FiresHandler(t *testing.T) {
	s := NewTimerScheduler(context.Background())
	defer s.Stop()

	fired := make(chan struct{})
	err := s.Submit(time.Now(), func(context.Context) { close(fired) })
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not fire")
	}
}

func TestTimerScheduler_StopRejectsSubmit(t *testing.T) {
	s := NewTimerScheduler(context.Background())
	s.Stop()

	err := s.Submit(time.Now(), func(context.Context) {})
	if err == nil {
		t.Fatal("Submit() after Stop() error = nil, want rejection")
	}
}

func TestTimerScheduler_CancelledContextSuppressesHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewTimerScheduler(ctx)
	defer s.Stop()

	fired := make(chan struct{}, 1)
	if err := s.Submit(time.Now().Add(50*time.Millisecond), func(context.Context) {
		fired <- struct{}{}
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	cancel()

	select {
	case <-fired:
		t.Fatal("handler fired after context cancellation")
	case <-time.After(200 * time.Millisecond):
	}
}
