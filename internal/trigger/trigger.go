// Package trigger decides when the resolve-and-materialize pass runs.
//
// Two independent wake-up sources call the same processor: a foreground
// trigger (startup, SIGHUP, manual API call) and a best-effort background
// chain of one-shot wake-ups, each of which resubmits the next wake before
// doing any work. Pass serialization lives in the processor, so the two
// sources never double-post an occurrence.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ledgerd/internal/services"
)

// ErrSchedulingUnavailable is returned when the wake scheduler rejected a
// submission. The engine degrades to catch-up on the next foreground run.
var ErrSchedulingUnavailable = errors.New("background scheduling unavailable")

// Handler is a background wake-up callback.
type Handler func(ctx context.Context)

// WakeScheduler submits a single wake-up that fires no earlier than
// earliest. It makes no on-time guarantee; the host may delay it.
type WakeScheduler interface {
	Submit(earliest time.Time, h Handler) error
}

// Trigger owns the two wake-up sources for one processor.
type Trigger struct {
	processor *services.Processor
	sched     WakeScheduler
	interval  time.Duration // earliest-begin gap between background wakes
	budget    time.Duration // execution budget per background pass, 0 = none
}

func New(processor *services.Processor, sched WakeScheduler, interval, budget time.Duration) *Trigger {
	return &Trigger{
		processor: processor,
		sched:     sched,
		interval:  interval,
		budget:    budget,
	}
}

// RunForeground executes one pass synchronously. Called on startup, on
// SIGHUP and from the manual run endpoint, so missed background wakes are
// always reconciled the next time anyone looks.
func (t *Trigger) RunForeground(ctx context.Context) (int, error) {
	return t.processor.Run(ctx, time.Now())
}

// StartBackground seeds the self-resubmitting wake chain.
func (t *Trigger) StartBackground() error {
	if t.sched == nil {
		return ErrSchedulingUnavailable
	}
	if err := t.submitNext(); err != nil {
		return fmt.Errorf("%w: %v", ErrSchedulingUnavailable, err)
	}
	slog.Info("Background wake chain started", "interval", t.interval)
	return nil
}

func (t *Trigger) submitNext() error {
	return t.sched.Submit(time.Now().Add(t.interval), t.handleWake)
}

func (t *Trigger) handleWake(ctx context.Context) {
	// Resubmit before running the pass. If this step were skipped on any
	// path the chain would silently stop advancing.
	if err := t.submitNext(); err != nil {
		slog.Error("Background wake resubmission rejected, foreground trigger remains the fallback",
			"error", err)
	}

	runCtx := ctx
	if t.budget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.budget)
		defer cancel()
	}

	executed, err := t.processor.Run(runCtx, time.Now())
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		// Budget ran out mid-pass: committed work stands, the rest is
		// picked up by the next wake. Not an error.
		slog.Warn("Background pass cut off by execution budget", "executed", executed)
	case err != nil:
		slog.Error("Background pass failed", "error", err)
	default:
		slog.Info("Background pass complete", "executed", executed)
	}
}
