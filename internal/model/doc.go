// Package model defines the shared price vocabulary used across tickerboard.
//
// Conventions:
//   - Prices: float64 in the instrument's quote currency
//   - Timestamps: int64 milliseconds since Unix epoch
//   - Symbols: provider ticker strings (e.g., "AAPL", "^GSPC", "EURUSD=X")
//
// The merge functions are pure. Callers serialize access to a record.
package model
