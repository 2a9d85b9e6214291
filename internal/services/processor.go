// Package services orchestrates the recurring-transaction engine: one pass
// resolves the due set and materializes each due rule in turn.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"ledgerd/internal/core"
	"ledgerd/internal/schedule"
	"ledgerd/internal/storage"
)

// RuleStore is the slice of the persistence collaborator the processor
// needs. MaterializeRule must commit the ledger entry and the rule advance
// atomically, and must return storage.ErrAlreadyMaterialized when the rule
// was advanced past the next-due instant the resolver read.
type RuleStore interface {
	DueRules(ctx context.Context, now time.Time) ([]core.Rule, error)
	MaterializeRule(ctx context.Context, rule core.Rule, now, nextDue time.Time) (int64, error)
	DeactivateRule(ctx context.Context, id int64) error
}

// PassListener receives the summary of a pass that executed at least one
// rule.
type PassListener interface {
	PassCompleted(ctx context.Context, executed int, ranAt time.Time)
}

// Processor runs resolve-and-materialize passes. Passes are serialized by a
// weighted semaphore: the foreground, background and manual triggers all
// share one Processor, and without the gate two concurrent passes could
// read the same stale next_due and double-post an occurrence.
type Processor struct {
	store    RuleStore
	listener PassListener
	gate     *semaphore.Weighted
}

func NewProcessor(store RuleStore, listener PassListener) *Processor {
	return &Processor{
		store:    store,
		listener: listener,
		gate:     semaphore.NewWeighted(1),
	}
}

// Run executes one full pass: every active rule due at or before now is
// either deactivated (end date passed) or materialized once. The pass rate
// is at most one occurrence per rule regardless of how many due instants
// were missed while the engine was not running; the schedule still advances
// from the previous due instant, so the cadence does not drift.
//
// A failing rule aborts only its own materialization; the pass continues
// with the remaining rules and the failed rule is naturally re-selected on
// the next pass because its schedule was not advanced. Cancellation between
// rules leaves committed work in place and skips the rest.
func (p *Processor) Run(ctx context.Context, now time.Time) (int, error) {
	if p.store == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	if err := p.gate.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("acquire pass gate: %w", err)
	}
	defer p.gate.Release(1)

	dueRules, err := p.store.DueRules(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("resolve due rules: %w", err)
	}

	slog.InfoContext(ctx, "Processing due recurring rules",
		"due", len(dueRules),
		"now", now.Format(time.RFC3339))

	executed := 0

	for _, rule := range dueRules {
		if ctx.Err() != nil {
			slog.WarnContext(ctx, "Pass cancelled, remaining rules deferred to next pass",
				"executed", executed,
				"remaining", len(dueRules)-executed)
			break
		}

		if rule.Expired(now) {
			// Expired between passes: retire the rule, post nothing.
			if err := p.store.DeactivateRule(ctx, rule.ID); err != nil {
				slog.ErrorContext(ctx, "Failed to deactivate expired rule",
					"rule_id", rule.ID, "error", err)
			}
			continue
		}

		// Advance from the previous scheduled instant, not from now.
		nextDue, err := schedule.NextDue(rule.NextDue, rule.Frequency, rule.StartAt)
		if err != nil {
			slog.ErrorContext(ctx, "Rule has unsupported frequency, skipping",
				"rule_id", rule.ID,
				"frequency", rule.Frequency,
				"error", err)
			continue
		}

		txID, err := p.store.MaterializeRule(ctx, rule, now, nextDue)
		if errors.Is(err, storage.ErrAlreadyMaterialized) {
			slog.DebugContext(ctx, "Rule already materialized by a concurrent pass",
				"rule_id", rule.ID)
			continue
		}
		if err != nil {
			slog.ErrorContext(ctx, "Failed to materialize rule",
				"rule_id", rule.ID,
				"name", rule.Name,
				"error", err)
			continue
		}

		executed++
		slog.InfoContext(ctx, "Materialized transaction from rule",
			"rule_id", rule.ID,
			"transaction_id", txID,
			"name", rule.Name,
			"amount_cents", rule.Amount.Cents,
			"frequency", rule.Frequency,
			"next_due", nextDue.Format(time.RFC3339))
	}

	if executed > 0 && p.listener != nil {
		p.listener.PassCompleted(ctx, executed, now)
	}

	slog.InfoContext(ctx, "Recurring rule pass complete",
		"executed", executed,
		"checked", len(dueRules))

	return executed, nil
}
