package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one WebSocket connection to a quote feed.
type Client interface {
	Connect(ctx context.Context) error
	Close() error

	// Send writes one text frame.
	Send(data []byte) error

	// Messages delivers every inbound frame stamped with its receive time.
	Messages() <-chan TimestampedMessage

	// Errors delivers at most one error: the reason the connection ended.
	// A close frame from the feed arrives as a *CloseError.
	Errors() <-chan error

	IsConnected() bool
}

type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	writeMu sync.Mutex
	mu      sync.RWMutex
	conn    *websocket.Conn
	closed  bool

	connected atomic.Bool
	lastSeen  atomic.Int64 // unix nanos of the last ping, pong or frame
}

// NewClient creates a feed client. Nothing is dialled until Connect.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// feedURL returns base with token set as the "token" query parameter.
func feedURL(base, token string) (string, error) {
	if token == "" {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *client) handshakeHeader() http.Header {
	h := make(http.Header, len(c.cfg.Header)+1)
	for k, v := range c.cfg.Header {
		h[k] = append([]string(nil), v...)
	}
	if h.Get("Accept") == "" {
		h.Set("Accept", "application/json")
	}
	return h
}

// Connect dials the feed and starts the read and keepalive loops.
func (c *client) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrAlreadyClosed
	}

	target, err := feedURL(c.cfg.URL, c.cfg.Token)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, target, c.handshakeHeader())
	if err != nil {
		if resp != nil {
			// The token is in target; report only the status.
			return fmt.Errorf("feed handshake: %s: %w", resp.Status, err)
		}
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.mu.Unlock()

	c.touch()
	c.connected.Store(true)

	conn.SetPingHandler(func(data string) error {
		c.touch()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop(conn)
	go c.keepalive(conn)

	c.logger.Debug("feed connected", "host", conn.RemoteAddr().String())
	return nil
}

func (c *client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// fail reports err once unless the client was closed locally.
func (c *client) fail(err error) {
	c.connected.Store(false)
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.errors <- err:
	default:
	}
}

// Close sends a normal close frame and releases the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.connected.Store(false)
	close(c.done)

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *client) Send(data []byte) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) Messages() <-chan TimestampedMessage { return c.messages }

func (c *client) Errors() <-chan error { return c.errors }

func (c *client) IsConnected() bool { return c.connected.Load() }

func (c *client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		at := time.Now()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				err = &CloseError{Code: ce.Code, Text: ce.Text}
			}
			c.fail(err)
			return
		}
		c.touch()

		select {
		case c.messages <- TimestampedMessage{Data: data, ReceivedAt: at}:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping frame", "bytes", len(data))
		}
	}
}

// keepalive pings the feed and reports ErrStaleConnection when nothing has
// been heard for PingTimeout.
func (c *client) keepalive(conn *websocket.Conn) {
	interval := c.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.writeMu.Lock()
		err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Debug("ping failed", "error", err)
		}

		silent := time.Since(time.Unix(0, c.lastSeen.Load()))
		if c.cfg.PingTimeout > 0 && silent > c.cfg.PingTimeout {
			c.logger.Warn("feed silent, connection stale", "silent", silent, "timeout", c.cfg.PingTimeout)
			c.fail(ErrStaleConnection)
			return
		}
	}
}
