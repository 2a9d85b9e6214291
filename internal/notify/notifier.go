// Package notify delivers pass summaries to the user. Delivery is
// fire-and-forget: failures are logged by the caller, never propagated to
// the materialization path.
package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// Notifier receives one summary event per non-empty materialization pass.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// InboxWriter is the slice of the persistence collaborator the inbox
// notifier needs.
type InboxWriter interface {
	AddNotification(ctx context.Context, title, body string) (int64, error)
}

// InboxNotifier persists the summary as an in-app inbox entry.
type InboxNotifier struct {
	inbox InboxWriter
}

func NewInboxNotifier(inbox InboxWriter) *InboxNotifier {
	return &InboxNotifier{inbox: inbox}
}

func (n *InboxNotifier) Notify(ctx context.Context, title, body string) error {
	id, err := n.inbox.AddNotification(ctx, title, body)
	if err != nil {
		return fmt.Errorf("write inbox notification: %w", err)
	}
	slog.InfoContext(ctx, "Inbox notification written", "id", id, "title", title)
	return nil
}

// LogNotifier only logs the summary. Used when no other sink is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, title, body string) error {
	slog.InfoContext(ctx, "Notification", "title", title, "body", body)
	return nil
}

// Multi fans a summary out to several notifiers. Each sink is attempted
// even when an earlier one fails; the first error is returned for logging.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, title, body string) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, title, body); err != nil {
			slog.ErrorContext(ctx, "Notifier failed", "error", err, "title", title)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
