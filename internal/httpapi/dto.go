package httpapi

import (
	"fmt"
	"strings"
	"time"

	"ledgerd/internal/core"
)

// rulePayload is the create/update request body. Amount is a decimal string
// ("12.34" or "12,34"); dates accept RFC 3339 or plain "2006-01-02".
type rulePayload struct {
	Name       string `json:"name"`
	Amount     string `json:"amount"`
	CategoryID int64  `json:"category_id"`
	AccountID  int64  `json:"account_id"`
	IsIncome   bool   `json:"is_income"`
	Frequency  string `json:"frequency"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date,omitempty"`
	Note       string `json:"note,omitempty"`
}

func (p rulePayload) toRule() (core.Rule, error) {
	cents, err := core.ParseDecimalToCents(p.Amount)
	if err != nil {
		return core.Rule{}, fmt.Errorf("amount: %w", err)
	}

	start, err := parseDate(p.StartDate)
	if err != nil {
		return core.Rule{}, fmt.Errorf("start_date: %w", err)
	}

	var end *time.Time
	if p.EndDate != "" {
		e, err := parseDate(p.EndDate)
		if err != nil {
			return core.Rule{}, fmt.Errorf("end_date: %w", err)
		}
		end = &e
	}

	rule := core.Rule{
		Name:       strings.TrimSpace(p.Name),
		Amount:     core.Money{Cents: cents},
		CategoryID: p.CategoryID,
		AccountID:  p.AccountID,
		IsIncome:   p.IsIncome,
		Frequency:  core.Frequency(strings.ToUpper(strings.TrimSpace(p.Frequency))),
		StartAt:    start,
		EndAt:      end,
		IsActive:   true,
		NextDue:    start,
		Note:       strings.TrimSpace(p.Note),
	}

	if err := rule.Validate(); err != nil {
		return core.Rule{}, err
	}
	return rule, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

type ruleResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	AmountCents  int64  `json:"amount_cents"`
	Amount       string `json:"amount"`
	CategoryID   int64  `json:"category_id"`
	AccountID    int64  `json:"account_id"`
	IsIncome     bool   `json:"is_income"`
	Frequency    string `json:"frequency"`
	StartAt      string `json:"start_at"`
	EndAt        string `json:"end_at,omitempty"`
	IsActive     bool   `json:"is_active"`
	LastExecuted string `json:"last_executed,omitempty"`
	NextDue      string `json:"next_due"`
	Note         string `json:"note,omitempty"`
}

func toRuleResponse(r core.Rule) ruleResponse {
	resp := ruleResponse{
		ID:          r.ID,
		Name:        r.Name,
		AmountCents: r.Amount.Cents,
		Amount:      r.Amount.String(),
		CategoryID:  r.CategoryID,
		AccountID:   r.AccountID,
		IsIncome:    r.IsIncome,
		Frequency:   string(r.Frequency),
		StartAt:     r.StartAt.Format(time.RFC3339),
		IsActive:    r.IsActive,
		NextDue:     r.NextDue.Format(time.RFC3339),
		Note:        r.Note,
	}
	if r.EndAt != nil {
		resp.EndAt = r.EndAt.Format(time.RFC3339)
	}
	if r.LastExecuted != nil {
		resp.LastExecuted = r.LastExecuted.Format(time.RFC3339)
	}
	return resp
}

type transactionResponse struct {
	ID          int64  `json:"id"`
	AmountCents int64  `json:"amount_cents"`
	IsIncome    bool   `json:"is_income"`
	CategoryID  int64  `json:"category_id"`
	AccountID   int64  `json:"account_id"`
	Timestamp   string `json:"timestamp"`
	Note        string `json:"note,omitempty"`
	RuleID      *int64 `json:"rule_id,omitempty"`
}

func toTransactionResponse(t core.Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID,
		AmountCents: t.Amount.Cents,
		IsIncome:    t.IsIncome,
		CategoryID:  t.CategoryID,
		AccountID:   t.AccountID,
		Timestamp:   t.Timestamp.Format(time.RFC3339),
		Note:        t.Note,
		RuleID:      t.RuleID,
	}
}

type notificationResponse struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	CreatedAt   string `json:"created_at"`
	DeliveredAt string `json:"delivered_at,omitempty"`
}

func toNotificationResponse(n core.Notification) notificationResponse {
	resp := notificationResponse{
		ID:        n.ID,
		Title:     n.Title,
		Body:      n.Body,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
	if n.DeliveredAt != nil {
		resp.DeliveredAt = n.DeliveredAt.Format(time.RFC3339)
	}
	return resp
}
