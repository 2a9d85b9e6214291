package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ledgerd/internal/amqp"
)

// QueuePublisher is the slice of the AMQP client the dispatcher needs.
type QueuePublisher interface {
	PublishNotification(ctx context.Context, ev *amqp.NotificationEvent) error
}

// Dispatcher turns the engine's pass summary into user-facing
// notifications: always an inbox entry, plus a queue event when a broker is
// configured. All delivery failures are logged and swallowed; a
// notification problem must never fail a materialization pass.
type Dispatcher struct {
	inbox InboxWriter
	queue QueuePublisher
	extra []Notifier
}

func NewDispatcher(inbox InboxWriter, queue QueuePublisher, extra ...Notifier) *Dispatcher {
	return &Dispatcher{inbox: inbox, queue: queue, extra: extra}
}

// PassCompleted emits one summary for a materialization pass. Passes that
// executed nothing are silent.
func (d *Dispatcher) PassCompleted(ctx context.Context, executed int, ranAt time.Time) {
	if executed <= 0 {
		return
	}

	title := "Recurring transactions"
	body := summaryBody(executed)

	var inboxID int64
	if d.inbox != nil {
		id, err := d.inbox.AddNotification(ctx, title, body)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to write inbox notification", "error", err)
		} else {
			inboxID = id
		}
	}

	if d.queue != nil {
		ev := amqp.NewNotificationEvent(title, body, executed, ranAt)
		ev.InboxID = inboxID
		if err := d.queue.PublishNotification(ctx, ev); err != nil {
			slog.ErrorContext(ctx, "Failed to publish notification event", "error", err)
		}
	}

	for _, n := range d.extra {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, title, body); err != nil {
			slog.ErrorContext(ctx, "Notifier failed", "error", err, "title", title)
		}
	}
}

func summaryBody(executed int) string {
	if executed == 1 {
		return "A scheduled transaction was added to your ledger."
	}
	return fmt.Sprintf("%d scheduled transactions were added to your ledger.", executed)
}
