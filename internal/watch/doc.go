// Package watch is the notification-scheduling engine.
//
// Each tick the Scheduler polls an EventSource for upcoming events, arms
// day-before and hour-before warnings through an AlarmQueue, and records
// every armed milestone in the Ledger so it is never armed twice. Fired
// alarms fan out through the Registry (all-events subscribers plus
// recipients whose teams are on the live roster) and the Notifier. Once an
// hour-warned event's scoreboard shows up, the ScoreboardWatcher sends
// results to team subscribers and retires the event from the Ledger.
//
// Ledger and Registry are the only shared mutable state. Each has a single
// lock, and each persists its own snapshot while holding that lock.
package watch
