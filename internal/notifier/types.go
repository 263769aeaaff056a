package notifier

import (
	"time"

	"chime/internal/reminder"
)

// Config controls the async presentation pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	// DeliverTimeout bounds one sink call.
	DeliverTimeout time.Duration
}

// Notification is what a sink receives for one occurrence.
type Notification struct {
	ReminderID string
	Message    string
	Schedule   string
	Channel    reminder.Channel
	FireAt     time.Time
}

func fromReminder(r reminder.Reminder) Notification {
	return Notification{
		ReminderID: r.ID,
		Message:    r.Message,
		Schedule:   r.Schedule.Describe(),
		Channel:    r.Channel,
		FireAt:     r.NextFireAt,
	}
}

type HistoryItem struct {
	At         time.Time `json:"at"`
	ReminderID string    `json:"reminder_id"`
	Sink       string    `json:"sink"`
	Message    string    `json:"message"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
}

// NotificationEvent is the Data of notifier.* bus events.
type NotificationEvent struct {
	ReminderID string    `json:"reminder_id"`
	Sink       string    `json:"sink,omitempty"`
	Key        string    `json:"key"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}
