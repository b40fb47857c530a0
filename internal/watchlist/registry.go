// Package watchlist keeps the set of instruments the board tracks.
//
// The list is persisted in a settings.Store, seeded from configuration on
// first start, and re-read periodically so edits made by another process are
// picked up. Every addition and removal is published as a Change.
package watchlist

import (
	"context"
	"strings"
)

// ChangeBufferSize is the capacity of the Change channel.
const ChangeBufferSize = 256

// Kind is the instrument family, which decides the reconciler and feed.
type Kind string

const (
	KindEquity Kind = "equity"
	KindIndex  Kind = "index"
)

// Instrument is one watchlist entry.
type Instrument struct {
	Symbol string `json:"symbol" yaml:"symbol"`
	Kind   Kind   `json:"kind" yaml:"kind"`
}

// KindFor infers the kind from a symbol: indices start with '^' and FX pairs
// end in "=X".
func KindFor(symbol string) Kind {
	if strings.HasPrefix(symbol, "^") || strings.HasSuffix(symbol, "=X") {
		return KindIndex
	}
	return KindEquity
}

// Registry manages the watchlist.
type Registry interface {
	// Start loads the list, seeding it if empty, and begins periodic
	// reconciliation with the store.
	Start(ctx context.Context) error

	// Stop gracefully shuts down.
	Stop(ctx context.Context) error

	// List returns the instruments in insertion order.
	List() []Instrument

	// Get returns one instrument by symbol.
	Get(symbol string) (Instrument, bool)

	// Add inserts an instrument and persists the list. Adding a present
	// symbol is a no-op.
	Add(ctx context.Context, inst Instrument) error

	// Remove deletes a symbol and persists the list.
	Remove(ctx context.Context, symbol string) error

	// SubscribeChanges returns the channel of watchlist changes.
	SubscribeChanges() <-chan Change
}

// Change is one watchlist transition.
type Change struct {
	Symbol     string
	EventType  string      // "added" or "removed"
	Instrument *Instrument // nil for "removed"
}
