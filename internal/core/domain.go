package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

type (
	// Frequency is the cadence of a recurring rule.
	Frequency string

	Money struct {
		Cents int64
	}

	// Rule is a recurrence template that generates ledger transactions on a
	// cadence. Amount is always positive; direction is carried by IsIncome.
	// EndAt and LastExecuted are nil when unset.
	Rule struct {
		ID           int64
		Name         string
		Amount       Money
		CategoryID   int64
		AccountID    int64
		IsIncome     bool
		Frequency    Frequency
		StartAt      time.Time
		EndAt        *time.Time
		IsActive     bool
		LastExecuted *time.Time
		NextDue      time.Time
		Note         string
	}

	// Transaction is a ledger entry. RuleID is set when the entry was
	// materialized from a recurring rule, for audit.
	Transaction struct {
		ID         int64
		Amount     Money
		IsIncome   bool
		CategoryID int64
		AccountID  int64
		Timestamp  time.Time
		Note       string
		RuleID     *int64
	}

	// Notification is an in-app inbox entry. DeliveredAt is nil until the
	// notify worker has pushed it out.
	Notification struct {
		ID          int64
		Title       string
		Body        string
		CreatedAt   time.Time
		DeliveredAt *time.Time
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrEmptyName        = errors.New("empty name")
	ErrEmptyStart       = errors.New("start date cannot be zero")
	ErrEndBeforeStart   = errors.New("end date must not be before start date")
	ErrMissingCategory  = errors.New("missing category reference")
	ErrMissingAccount   = errors.New("missing account reference")
	ErrRuleNotFound     = errors.New("rule not found")
)

func (f Frequency) Validate() error {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return nil
	default:
		return ErrInvalidFrequency
	}
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (r Rule) Validate() error {
	if len(strings.TrimSpace(r.Name)) == 0 {
		return ErrEmptyName
	}
	if len(r.Name) > 200 {
		return errors.New("name too long (max 200 characters)")
	}
	if err := r.Amount.Validate(); err != nil {
		return err
	}
	if r.CategoryID <= 0 {
		return ErrMissingCategory
	}
	if r.AccountID <= 0 {
		return ErrMissingAccount
	}
	if err := r.Frequency.Validate(); err != nil {
		return err
	}
	if r.StartAt.IsZero() {
		return ErrEmptyStart
	}
	if r.EndAt != nil && r.EndAt.Before(r.StartAt) {
		return ErrEndBeforeStart
	}
	if len(r.Note) > 500 {
		return errors.New("note too long (max 500 characters)")
	}
	return nil
}

// Expired reports whether the rule's end boundary has passed. A rule with no
// end date never expires.
func (r Rule) Expired(now time.Time) bool {
	return r.EndAt != nil && r.EndAt.Before(now)
}
