package notifier

import "time"

// Config controls rate limiting and retries.
type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

type HistoryItem struct {
	At     time.Time
	ChatID int64
	Text   string
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	ChatID   int64     `json:"chat_id"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

const (
	TopicSent   = "notifier.sent"
	TopicFailed = "notifier.failed"
	TopicRetry  = "notifier.retry"
)
