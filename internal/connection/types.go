package connection

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrTransportClosed = errors.New("transport closed")
)

// CloseError is a close frame sent by the feed.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("feed closed connection: %d %s", e.Code, e.Text)
}

// Rejected reports whether the feed refused the session, as opposed to
// going away. Policy violations and application codes (4000-4999) count.
func (e *CloseError) Rejected() bool {
	return e.Code == websocket.ClosePolicyViolation || (e.Code >= 4000 && e.Code <= 4999)
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL
	Token        string        // Sent as the "token" query parameter when set
	Header       http.Header   // Extra handshake headers
	PingInterval time.Duration // Interval between client keepalive pings
	PingTimeout  time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 30 * time.Second,
		PingTimeout:  90 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// TransportConfig configures a Transport.
type TransportConfig struct {
	Name        string        // Feed name for logs
	Client      ClientConfig  // Per-connection settings; URL is the base feed URL
	BaseDelay   time.Duration // First reconnect delay
	MaxDelay    time.Duration // Upper bound on any single delay
	MaxAttempts int           // Reconnect attempts before the transport fails
	DialTimeout time.Duration // Timeout for one dial
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Client:      DefaultClientConfig(),
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		MaxAttempts: 5,
		DialTimeout: 10 * time.Second,
	}
}

// ReconnectState is the transport's reconnect bookkeeping.
type ReconnectState struct {
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	Failed      bool          `json:"failed"`
}
