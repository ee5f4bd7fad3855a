// Package commands routes chat commands to the watch engine.
//
// Incoming updates are parsed on the dispatch loop and executed by a small
// worker pool; every handler runs behind panic recovery, request logging and
// a timeout. Subscription changes are written to the audit log.
package commands
