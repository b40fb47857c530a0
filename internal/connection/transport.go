package connection

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// DialFunc opens a connected Client using token.
type DialFunc func(ctx context.Context, token string) (Client, error)

// ScheduleFunc runs fn after d and returns a function that cancels it.
type ScheduleFunc func(d time.Duration, fn func()) (cancel func())

type transportOptions struct {
	dial     DialFunc
	schedule ScheduleFunc
	spawn    func(func())
}

// TransportOption configures a Transport.
type TransportOption func(*transportOptions)

// WithDialer replaces the WebSocket dialer.
func WithDialer(dial DialFunc) TransportOption {
	return func(o *transportOptions) { o.dial = dial }
}

// WithScheduler replaces the reconnect timer.
func WithScheduler(schedule ScheduleFunc) TransportOption {
	return func(o *transportOptions) { o.schedule = schedule }
}

// WithSpawn replaces how connection attempts triggered by Subscribe are
// started. The default runs them on a new goroutine.
func WithSpawn(spawn func(func())) TransportOption {
	return func(o *transportOptions) { o.spawn = spawn }
}

type handler[T any] struct {
	id     uuid.UUID
	fn     func(T)
	active atomic.Bool
}

type failureCallback struct {
	id uuid.UUID
	fn func()
}

// Transport multiplexes per-symbol subscriptions over one reconnecting
// WebSocket connection.
type Transport[T any] struct {
	cfg      TransportConfig
	proto    Protocol[T]
	logger   *slog.Logger
	dial     DialFunc
	schedule ScheduleFunc
	spawn    func(func())

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	token            string
	subs             map[string][]*handler[T]
	failureCbs       []failureCallback
	backoff          *backoff.ExponentialBackOff
	attempt          int
	failed           bool
	connecting       bool
	reconnectPending bool
	cancelRetry      func()
	client           Client
	closed           bool
}

// NewTransport creates a Transport. No connection is opened until the first
// Subscribe.
func NewTransport[T any](cfg TransportConfig, proto Protocol[T], logger *slog.Logger, opts ...TransportOption) *Transport[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = proto.Name()
	}

	o := transportOptions{
		schedule: func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		},
		spawn: func(fn func()) { go fn() },
	}
	for _, opt := range opts {
		opt(&o)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = cfg.MaxDelay
	switch {
	case cfg.MaxDelay <= 0:
		b.MaxInterval = math.MaxInt64 // uncapped
	case b.MaxInterval < b.InitialInterval:
		b.MaxInterval = b.InitialInterval
	}
	b.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport[T]{
		cfg:      cfg,
		proto:    proto,
		logger:   logger.With("feed", cfg.Name),
		schedule: o.schedule,
		spawn:    o.spawn,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[string][]*handler[T]),
		backoff:  b,
	}
	t.dial = o.dial
	if t.dial == nil {
		t.dial = t.dialWebSocket
	}
	return t
}

// dialWebSocket connects to the configured URL with token.
func (t *Transport[T]) dialWebSocket(ctx context.Context, token string) (Client, error) {
	cfg := t.cfg.Client
	cfg.Token = token
	c := NewClient(cfg, t.logger)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Init stores credentials and clears any terminal failure. It does not
// connect.
func (t *Transport[T]) Init(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.token = token
	t.failed = false
	t.attempt = 0
	t.backoff.Reset()
}

// Subscribe registers fn for symbol and returns a function that removes
// exactly this registration. The first subscriber for a symbol sends a wire
// subscribe when connected, or starts a connection attempt when not.
func (t *Transport[T]) Subscribe(symbol string, fn func(T)) (unsubscribe func()) {
	h := &handler[T]{id: uuid.New(), fn: fn}
	h.active.Store(true)

	t.mu.Lock()
	first := len(t.subs[symbol]) == 0
	t.subs[symbol] = append(append([]*handler[T](nil), t.subs[symbol]...), h)

	var (
		client  Client
		connect bool
	)
	if first && !t.closed {
		if t.client != nil {
			client = t.client
		} else if !t.connecting && !t.reconnectPending && !t.failed {
			connect = true
		}
	}
	t.mu.Unlock()

	if client != nil {
		t.send(client, t.proto.SubscribeFrames([]string{symbol}))
	}
	if connect {
		t.spawn(t.connect)
	}

	var once sync.Once
	return func() {
		once.Do(func() { t.unsubscribe(symbol, h) })
	}
}

func (t *Transport[T]) unsubscribe(symbol string, h *handler[T]) {
	h.active.Store(false)

	t.mu.Lock()
	current := t.subs[symbol]
	next := make([]*handler[T], 0, len(current))
	for _, other := range current {
		if other.id != h.id {
			next = append(next, other)
		}
	}

	var client Client
	if len(next) == 0 {
		delete(t.subs, symbol)
		if len(current) > 0 {
			client = t.client
		}
	} else {
		t.subs[symbol] = next
	}
	t.mu.Unlock()

	if client != nil {
		t.send(client, t.proto.UnsubscribeFrames([]string{symbol}))
	}
}

// OnConnectionFailed registers fn to run once reconnect attempts are
// exhausted. Callbacks run in registration order.
func (t *Transport[T]) OnConnectionFailed(fn func()) (unregister func()) {
	id := uuid.New()

	t.mu.Lock()
	t.failureCbs = append(t.failureCbs, failureCallback{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, cb := range t.failureCbs {
				if cb.id == id {
					t.failureCbs = append(t.failureCbs[:i:i], t.failureCbs[i+1:]...)
					return
				}
			}
		})
	}
}

// IsConnected reports whether the underlying connection is open.
func (t *Transport[T]) IsConnected() bool {
	t.mu.Lock()
	c := t.client
	t.mu.Unlock()
	return c != nil && c.IsConnected()
}

// Failed reports whether reconnect attempts were exhausted since the last
// Init.
func (t *Transport[T]) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// State returns the reconnect bookkeeping.
func (t *Transport[T]) State() ReconnectState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ReconnectState{
		Attempt:     t.attempt,
		MaxAttempts: t.cfg.MaxAttempts,
		BaseDelay:   t.cfg.BaseDelay,
		Failed:      t.failed,
	}
}

// Symbols returns the subscribed symbols in sorted order.
func (t *Transport[T]) Symbols() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.symbolsLocked()
}

// Close stops reconnecting and closes the connection. Subscriptions are
// kept but no further messages are dispatched.
func (t *Transport[T]) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.closed = true
	client := t.client
	t.client = nil
	if t.cancelRetry != nil {
		t.cancelRetry()
		t.cancelRetry = nil
	}
	t.reconnectPending = false
	t.mu.Unlock()

	t.cancel()
	if client != nil {
		return client.Close()
	}
	return nil
}

func (t *Transport[T]) symbolsLocked() []string {
	symbols := make([]string, 0, len(t.subs))
	for s := range t.subs {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// connect makes one connection attempt.
func (t *Transport[T]) connect() {
	t.mu.Lock()
	t.reconnectPending = false
	t.cancelRetry = nil
	if t.closed || t.failed || t.connecting || t.client != nil || len(t.subs) == 0 {
		t.mu.Unlock()
		return
	}
	t.connecting = true
	token := t.token
	t.mu.Unlock()

	ctx, cancel := t.ctx, context.CancelFunc(func() {})
	if t.cfg.DialTimeout > 0 {
		ctx, cancel = context.WithTimeout(t.ctx, t.cfg.DialTimeout)
	}
	client, err := t.dial(ctx, token)
	cancel()

	t.mu.Lock()
	t.connecting = false
	if err != nil {
		t.mu.Unlock()
		t.logger.Warn("connect failed", "error", err)
		t.handleDisconnect()
		return
	}
	if t.closed {
		t.mu.Unlock()
		client.Close()
		return
	}
	t.client = client
	t.attempt = 0
	t.backoff.Reset()
	symbols := t.symbolsLocked()
	t.mu.Unlock()

	t.logger.Info("connected", "symbols", len(symbols))

	go t.pump(client)
	t.send(client, t.proto.SubscribeFrames(symbols))
}

// pump reads frames from client until it fails or the transport closes.
func (t *Transport[T]) pump(client Client) {
	for {
		select {
		case <-t.ctx.Done():
			return
		case msg, ok := <-client.Messages():
			if !ok {
				t.lost(client, ErrNotConnected)
				return
			}
			t.dispatch(msg.Data)
		case err := <-client.Errors():
			t.lost(client, err)
			return
		}
	}
}

// lost tears down client and schedules a reconnect.
func (t *Transport[T]) lost(client Client, err error) {
	t.mu.Lock()
	if t.client != client {
		t.mu.Unlock()
		return
	}
	t.client = nil
	t.mu.Unlock()

	client.Close()
	var ce *CloseError
	if errors.As(err, &ce) && ce.Rejected() {
		t.logger.Error("feed rejected connection", "code", ce.Code, "reason", ce.Text)
	} else {
		t.logger.Warn("connection lost", "error", err)
	}
	t.handleDisconnect()
}

// handleDisconnect schedules the next attempt or, once attempts are
// exhausted, marks the transport failed and notifies every registrant.
func (t *Transport[T]) handleDisconnect() {
	t.mu.Lock()
	if t.closed || t.failed || t.reconnectPending || len(t.subs) == 0 {
		t.mu.Unlock()
		return
	}

	if t.attempt >= t.cfg.MaxAttempts {
		t.failed = true
		callbacks := append([]failureCallback(nil), t.failureCbs...)
		t.mu.Unlock()

		t.logger.Error("reconnect attempts exhausted", "attempts", t.cfg.MaxAttempts)
		for _, cb := range callbacks {
			cb.fn()
		}
		return
	}

	delay := t.backoff.NextBackOff()
	t.attempt++
	t.reconnectPending = true
	attempt := t.attempt
	t.mu.Unlock()

	t.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)

	// The scheduler may run connect synchronously.
	cancel := t.schedule(delay, t.connect)

	t.mu.Lock()
	if t.closed {
		cancel()
	} else if t.reconnectPending {
		t.cancelRetry = cancel
	}
	t.mu.Unlock()
}

// dispatch decodes frame and calls the handlers registered for each item's
// symbol. Handlers run without the lock held and may unsubscribe.
func (t *Transport[T]) dispatch(frame []byte) {
	items, err := t.proto.Decode(frame)
	if err != nil {
		t.logger.Debug("discarding frame", "error", err)
		return
	}

	for _, item := range items {
		t.mu.Lock()
		handlers := t.subs[t.proto.Symbol(item)]
		t.mu.Unlock()

		for _, h := range handlers {
			if h.active.Load() {
				h.fn(item)
			}
		}
	}
}

func (t *Transport[T]) send(client Client, frames [][]byte) {
	for _, f := range frames {
		if err := client.Send(f); err != nil {
			t.logger.Warn("send failed", "error", err)
			return
		}
	}
}
