// Package storage persists ctfwatch state between restarts.
//
// State is written as whole snapshots per section after every mutation:
//   - Subscriptions (all-events subscribers, team subscriptions, timezones)
//   - Ledger (day-warned and hour-warned event identifiers)
//
// Operator/user actions are additionally appended to an audit log.
package storage
