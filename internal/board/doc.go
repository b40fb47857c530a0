// Package board keeps one reconciler running per watchlist instrument.
//
// Equities get a PriceReconciler on the trade feed, indices and FX pairs
// an IndexReconciler on the index feed. The board follows watchlist
// changes, fans every view out to subscribers, and optionally samples the
// latest views into the history writer on a fixed interval.
package board
