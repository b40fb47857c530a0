package watchlist

import (
	"sync"

	"github.com/rickgao/tickerboard/internal/fanout"
)

// registryState holds the thread-safe instrument list.
type registryState struct {
	mu sync.RWMutex

	// Instruments indexed by symbol.
	items map[string]Instrument

	// Insertion order.
	order []string

	changes chan Change
}

func newState() *registryState {
	return &registryState{
		items:   make(map[string]Instrument),
		changes: make(chan Change, ChangeBufferSize),
	}
}

func (s *registryState) get(symbol string) (Instrument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.items[symbol]
	return inst, ok
}

func (s *registryState) list() []Instrument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked()
}

func (s *registryState) listLocked() []Instrument {
	out := make([]Instrument, 0, len(s.order))
	for _, sym := range s.order {
		out = append(out, s.items[sym])
	}
	return out
}

// addLocked inserts inst. It reports false if the symbol was present.
func (s *registryState) addLocked(inst Instrument) bool {
	if _, ok := s.items[inst.Symbol]; ok {
		return false
	}
	s.items[inst.Symbol] = inst
	s.order = append(s.order, inst.Symbol)
	return true
}

// removeLocked deletes symbol. It reports false if it was absent.
func (s *registryState) removeLocked(symbol string) bool {
	if _, ok := s.items[symbol]; !ok {
		return false
	}
	delete(s.items, symbol)
	for i, sym := range s.order {
		if sym == symbol {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// notifyChange sends a change without blocking. A full channel loses its
// oldest change, so readers that must not drift re-read List periodically.
func (s *registryState) notifyChange(change Change) {
	fanout.Offer(s.changes, change)
}
