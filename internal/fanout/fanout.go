// Package fanout holds the channel helpers shared by the packages that
// broadcast state to subscribers.
package fanout

// Offer sends v on ch without blocking. When ch is full its oldest value is
// discarded first, so a slow reader always ends up with the newest value.
// It reports whether a value was dropped.
func Offer[V any](ch chan V, v V) (dropped bool) {
	select {
	case ch <- v:
		return false
	default:
	}
	select {
	case <-ch:
		dropped = true
	default:
	}
	select {
	case ch <- v:
	default:
		// Another sender refilled ch.
		dropped = true
	}
	return dropped
}
