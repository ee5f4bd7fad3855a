package watch

import (
	"context"
	"time"

	"ctfwatch/internal/storage"
)

// EventSource is the upstream event feed and scoreboard.
type EventSource interface {
	// FetchUpcoming returns up to limit events starting at or after since.
	// A zero until leaves the window open-ended.
	FetchUpcoming(ctx context.Context, limit int, since, until time.Time) ([]Event, error)
	// FetchParticipants returns the live roster, lowercased.
	FetchParticipants(ctx context.Context, eventID int64) ([]string, error)
	// FetchScoreboard returns the results and the event title. An empty
	// result means "not published yet", not an error.
	FetchScoreboard(ctx context.Context, eventID int64) ([]TeamScore, string, error)
}

// TeamResolver is optionally implemented by an EventSource that can map a
// numeric team id to its name.
type TeamResolver interface {
	TeamName(ctx context.Context, teamID int64) (string, error)
}

// Notifier delivers one HTML-formatted message to one recipient.
type Notifier interface {
	Send(ctx context.Context, recipient int64, text string) error
}

// SubscriptionStore persists the Registry.
type SubscriptionStore interface {
	LoadSubscriptions(ctx context.Context) (storage.Subscriptions, error)
	SaveSubscriptions(ctx context.Context, s storage.Subscriptions) error
}

// LedgerStore persists the Ledger.
type LedgerStore interface {
	LoadLedger(ctx context.Context) (storage.Ledger, error)
	SaveLedger(ctx context.Context, l storage.Ledger) error
}

// Bus topics published by the engine.
const (
	TopicTick           = "watch.tick"
	TopicArmed          = "watch.armed"
	TopicDelivered      = "watch.delivered"
	TopicDeliveryFailed = "watch.delivery_failed"
	TopicRetired        = "watch.retired"
	TopicEvicted        = "watch.evicted"
	TopicPersistFailed  = "watch.persist_failed"
)

// TickInfo is the payload of TopicTick.
type TickInfo struct {
	OK        bool
	Fetched   int
	DayArmed  int
	HourArmed int
	Started   int
	Retired   int
	Took      time.Duration
}

// DeliveryInfo is the payload of TopicDelivered and TopicDeliveryFailed.
type DeliveryInfo struct {
	Kind      Notice
	EventID   int64
	Recipient int64
	Err       string
}

// persistTimeout bounds a single snapshot write.
const persistTimeout = 5 * time.Second
