// Package poller runs a task for a set of symbols on a fixed interval.
//
// The Poller:
//   - Polls immediately on start, then once per interval
//   - Fans out one task per symbol with bounded concurrency
//   - Applies an optional per-task timeout
//   - Logs failures and keeps going; a failed poll is retried on the next tick
//
// Reconcilers use a single-symbol Poller for their polling mode and the board
// uses one to record snapshots for the whole watchlist.
package poller
