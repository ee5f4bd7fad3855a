// Package notifier delivers chat messages on behalf of the watch engine.
//
// Sends are synchronous so callers see the final outcome: a token-bucket
// rate limit guards the transport, transient failures are retried with
// jittered exponential backoff, and permanent ones (for example a user who
// blocked the bot) fail fast.
//
// # History
//
// For operator visibility the service keeps a small in-memory history of
// recently delivered messages.
package notifier
