package connection

// Protocol describes one feed's wire format. Implementations must be safe
// for concurrent use.
type Protocol[T any] interface {
	// Name identifies the feed in logs.
	Name() string

	// SubscribeFrames returns the frames that subscribe to symbols.
	SubscribeFrames(symbols []string) [][]byte

	// UnsubscribeFrames returns the frames that unsubscribe from symbols.
	UnsubscribeFrames(symbols []string) [][]byte

	// Decode parses one inbound frame. Control frames yield no items.
	Decode(frame []byte) ([]T, error)

	// Symbol returns the routing key of a decoded item.
	Symbol(item T) string
}
