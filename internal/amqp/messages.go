package amqp

import (
	"encoding/json"
	"time"
)

// NotificationEvent is the pass-summary message published after a
// materialization pass executed one or more rules. The notify worker
// consumes it and pushes the delivery out.
type NotificationEvent struct {
	InboxID   int64     `json:"inbox_id,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Executed  int       `json:"executed"`
	RanAt     time.Time `json:"ran_at"`
	Timestamp time.Time `json:"timestamp"`
}

func NewNotificationEvent(title, body string, executed int, ranAt time.Time) *NotificationEvent {
	return &NotificationEvent{
		Title:     title,
		Body:      body,
		Executed:  executed,
		RanAt:     ranAt,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *NotificationEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NotificationEventFromJSON creates an event from JSON bytes
func NotificationEventFromJSON(data []byte) (*NotificationEvent, error) {
	var ev NotificationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
