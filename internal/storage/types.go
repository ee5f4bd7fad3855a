package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshots next to Path (atomic rename on save)
//   - "sqlite": SQLite database file at Path
//   - "memory": in-process only, nothing survives a restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Subscriptions is the persisted form of the subscription registry.
// Team names are stored folded (lowercase).
type Subscriptions struct {
	All       []int64            `json:"all"`
	Teams     map[int64][]string `json:"teams"`
	Timezones map[int64]int      `json:"timezones"`
}

// LedgerEntry records that a milestone warning was scheduled for an event.
// Finish is the event's end as known at scheduling time (zero if unknown).
type LedgerEntry struct {
	EventID  int64     `json:"event_id"`
	WarnedAt time.Time `json:"warned_at"`
	Finish   time.Time `json:"finish,omitempty"`
}

// Ledger is the persisted dedup ledger.
type Ledger struct {
	Day  []LedgerEntry `json:"day"`
	Hour []LedgerEntry `json:"hour"`
}

// AuditEntry records a user action that changed (or tried to change) state.
type AuditEntry struct {
	At       time.Time `json:"at"`
	ChatID   int64     `json:"chat_id"`
	Username string    `json:"username,omitempty"`
	Action   string    `json:"action"`
	Target   string    `json:"target,omitempty"`
	OK       bool      `json:"ok"`
}
