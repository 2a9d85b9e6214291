package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TimerScheduler is the in-process WakeScheduler: each Submit arms a
// one-shot timer that fires no earlier than the requested instant. The
// self-resubmitting chain means at most one timer is outstanding, but
// Submit tolerates overlap by replacing the previous timer.
type TimerScheduler struct {
	ctx context.Context

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewTimerScheduler binds the scheduler to ctx; handlers receive that
// context so daemon shutdown cancels an in-flight background pass
// cooperatively.
func NewTimerScheduler(ctx context.Context) *TimerScheduler {
	return &TimerScheduler{ctx: ctx}
}

func (s *TimerScheduler) Submit(earliest time.Time, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.ctx.Err() != nil {
		return fmt.Errorf("scheduler stopped")
	}

	delay := time.Until(earliest)
	if delay < 0 {
		delay = 0
	}

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, func() {
		if s.ctx.Err() != nil {
			return
		}
		h(s.ctx)
	})
	return nil
}

// Stop cancels the pending wake-up. A handler already running is not
// interrupted beyond its context.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
