package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/tickerboard/internal/fanout"
	"github.com/rickgao/tickerboard/internal/poller"
	"github.com/rickgao/tickerboard/internal/session"
)

// maxPendingTicks bounds ticks held while waiting for the first snapshot.
const maxPendingTicks = 256

// Patch folds a fetched snapshot into the current record. has reports
// whether cur holds a value.
type Patch[R any] func(cur R, has bool) R

// Strategy supplies the instrument-specific halves of a reconciler.
type Strategy[R, T any] interface {
	// Fetch retrieves a snapshot for symbol. It runs outside the actor.
	Fetch(ctx context.Context, symbol string, st session.State) (Patch[R], error)

	// ApplyTick merges a streamed tick. It reports false if the tick was
	// ignored.
	ApplyTick(cur R, tick T) (R, bool)
}

// Feed is a shared streaming transport.
type Feed[T any] interface {
	Init(token string)
	Subscribe(symbol string, fn func(T)) (unsubscribe func())
	OnConnectionFailed(fn func()) (unregister func())
	Failed() bool
}

// SessionSource reports the market session.
type SessionSource interface {
	Current() session.State
	Subscribe() (<-chan session.State, func())
}

// Config holds reconciler configuration.
type Config struct {
	Symbol       string
	PollInterval time.Duration
	Token        string // Passed to Feed.Init when streaming is retried
}

// View is a point-in-time copy of a reconciler's output.
type View[R any] struct {
	Symbol    string        `json:"symbol"`
	State     LoadState     `json:"state"`
	Mode      Mode          `json:"mode"`
	Session   session.State `json:"session"`
	Record    R             `json:"record"`
	HasRecord bool          `json:"has_record"`
	Error     string        `json:"error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Reconciler owns the best-known record for one symbol. All state changes
// run on a single goroutine; network calls and stream callbacks post events
// to it.
type Reconciler[R, T any] struct {
	cfg      Config
	strategy Strategy[R, T]
	feed     Feed[T]
	sessions SessionSource
	logger   *slog.Logger
	now      func() time.Time

	events chan func()
	done   chan struct{}
	seq    atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Owned by the run goroutine.
	symbol            string
	symbolGen         uint64
	modeGen           uint64
	appliedSeq        uint64
	session           session.State
	load              loadMachine
	modes             modeMachine
	active            Mode
	activeSet         bool
	record            R
	has               bool
	lastErr           error
	pending           []T
	unsubscribeFeed   func()
	unregisterFailure func()
	poller            *poller.Poller

	mu     sync.RWMutex
	view   View[R]
	subs   map[int]chan View[R]
	nextID int
}

// Option configures a Reconciler.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithNow overrides the clock used for UpdatedAt.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a Reconciler. feed may be nil, in which case the reconciler
// always polls.
func New[R, T any](cfg Config, strategy Strategy[R, T], feed Feed[T], sessions SessionSource, logger *slog.Logger, opts ...Option) *Reconciler[R, T] {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Reconciler[R, T]{
		cfg:      cfg,
		strategy: strategy,
		feed:     feed,
		sessions: sessions,
		logger:   logger,
		now:      o.now,
		events:   make(chan func(), 64),
		done:     make(chan struct{}),
		symbol:   cfg.Symbol,
		load:     newLoadMachine(),
		subs:     make(map[int]chan View[R]),
	}
	r.view = View[R]{Symbol: cfg.Symbol, State: StateIdle, Mode: ModePolling}
	return r
}

// Start runs the reconciler until ctx is cancelled or Stop is called.
func (r *Reconciler[R, T]) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	return nil
}

// Stop tears down the active mode and waits for the reconciler to exit.
func (r *Reconciler[R, T]) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetSymbol switches to a new symbol. All state for the previous symbol is
// discarded, including the effects of requests still in flight.
func (r *Reconciler[R, T]) SetSymbol(symbol string) {
	r.post(func() { r.switchSymbol(symbol) })
}

// Snapshot returns the latest view.
func (r *Reconciler[R, T]) Snapshot() View[R] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view
}

// Subscribe returns a channel receiving each new view. Slow readers only see
// the latest value. The returned func cancels the subscription.
func (r *Reconciler[R, T]) Subscribe() (<-chan View[R], func()) {
	ch := make(chan View[R], 1)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// post queues ev for the run goroutine.
func (r *Reconciler[R, T]) post(ev func()) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *Reconciler[R, T]) run() {
	defer r.wg.Done()
	defer close(r.done)

	states, cancelSessions := r.sessions.Subscribe()
	defer cancelSessions()

	r.session = r.sessions.Current()
	r.modes.setSession(r.session.Status)
	r.activate()
	r.publish()

	for {
		select {
		case <-r.ctx.Done():
			r.deactivate()
			return
		case st := <-states:
			r.onSession(st)
		case ev := <-r.events:
			ev()
		}
	}
}

// activate starts whichever mode the current session calls for, stopping
// the previous one.
func (r *Reconciler[R, T]) activate() {
	r.deactivate()
	r.modeGen++

	mode := r.desiredMode()
	r.active = mode
	r.activeSet = true
	r.logger.Debug("reconciler mode", "symbol", r.symbol, "mode", mode, "session", r.session.Status)

	if r.symbol == "" {
		return
	}

	switch mode {
	case ModeStreaming:
		r.startStreaming()
	default:
		r.startPolling()
	}
}

// desiredMode is the session-derived mode, downgraded to polling when there
// is no feed or the feed has already given up.
func (r *Reconciler[R, T]) desiredMode() Mode {
	if r.feed == nil {
		return ModePolling
	}
	if r.modes.mode() == ModeStreaming && r.feed.Failed() {
		r.modes.streamFailure()
	}
	return r.modes.mode()
}

func (r *Reconciler[R, T]) deactivate() {
	if r.unsubscribeFeed != nil {
		r.unsubscribeFeed()
		r.unsubscribeFeed = nil
	}
	if r.unregisterFailure != nil {
		r.unregisterFailure()
		r.unregisterFailure = nil
	}
	if r.poller != nil {
		p := r.poller
		r.poller = nil
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			p.Stop(context.Background())
		}()
	}
	r.pending = nil
}

func (r *Reconciler[R, T]) startStreaming() {
	gen := r.modeGen
	symbol := r.symbol

	r.unregisterFailure = r.feed.OnConnectionFailed(func() {
		r.post(func() { r.onStreamFailed(gen) })
	})

	// Ticks carry no OHLC context, so a baseline snapshot comes first.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.fetch(r.ctx)
	}()

	r.unsubscribeFeed = r.feed.Subscribe(symbol, func(tick T) {
		r.post(func() { r.onTick(gen, tick) })
	})
}

func (r *Reconciler[R, T]) startPolling() {
	cfg := poller.Config{
		Name:        "reconcile:" + r.symbol,
		Interval:    r.cfg.PollInterval,
		Concurrency: 1,
	}
	handler := poller.HandlerFunc(func(ctx context.Context, symbol string) error {
		return r.fetch(ctx)
	})

	r.poller = poller.New(cfg, poller.Static(r.symbol), handler, r.logger)
	r.poller.Start(r.ctx)
}

// fetch runs one snapshot request and posts its result. It must not run on
// the actor goroutine.
func (r *Reconciler[R, T]) fetch(ctx context.Context) error {
	seq := r.seq.Add(1)

	type target struct {
		symbol string
		gen    uint64
		st     session.State
	}
	got := make(chan target, 1)
	r.post(func() {
		got <- target{symbol: r.symbol, gen: r.symbolGen, st: r.session}
		r.load.begin()
		r.publish()
	})

	var tgt target
	select {
	case tgt = <-got:
	case <-r.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}

	patch, err := r.strategy.Fetch(ctx, tgt.symbol, tgt.st)
	if ctx.Err() != nil {
		// The poller or the reconciler stopped. A streaming baseline is not
		// cancelled by a mode change; onFetched drops it by sequence.
		return ctx.Err()
	}
	r.post(func() { r.onFetched(tgt.gen, seq, patch, err) })
	return err
}

func (r *Reconciler[R, T]) onFetched(symbolGen, seq uint64, patch Patch[R], err error) {
	if symbolGen != r.symbolGen || seq <= r.appliedSeq {
		return
	}
	r.appliedSeq = seq

	if err != nil {
		r.load.fail()
		if !r.has {
			r.lastErr = err
		}
		r.logger.Debug("snapshot failed", "symbol", r.symbol, "state", r.load.state, "error", err)
		r.publish()
		return
	}

	r.record = patch(r.record, r.has)
	r.has = true
	r.lastErr = nil
	r.load.succeed()

	pending := r.pending
	r.pending = nil
	for _, tick := range pending {
		if rec, ok := r.strategy.ApplyTick(r.record, tick); ok {
			r.record = rec
		}
	}
	r.publish()
}

func (r *Reconciler[R, T]) onTick(gen uint64, tick T) {
	if gen != r.modeGen {
		return
	}
	if !r.has {
		if len(r.pending) < maxPendingTicks {
			r.pending = append(r.pending, tick)
		}
		return
	}

	rec, ok := r.strategy.ApplyTick(r.record, tick)
	if !ok {
		return
	}
	r.record = rec
	r.load.succeed()
	r.publish()
}

func (r *Reconciler[R, T]) onStreamFailed(gen uint64) {
	if gen != r.modeGen {
		return
	}
	r.logger.Warn("stream failed, polling", "symbol", r.symbol)
	r.modes.streamFailure()
	r.activate()
	r.publish()
}

func (r *Reconciler[R, T]) onSession(st session.State) {
	prev := r.session
	r.session = st

	if r.modes.setSession(st.Status) && r.feed != nil {
		r.logger.Info("session open, retrying stream", "symbol", r.symbol)
		r.feed.Init(r.cfg.Token)
	}

	switch {
	case !r.activeSet || r.desiredMode() != r.active:
		r.activate()
	case r.active == ModePolling && st.Status != prev.Status && r.symbol != "":
		// The extended-hours side may have changed.
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.fetch(r.ctx)
		}()
	}
	r.publish()
}

func (r *Reconciler[R, T]) switchSymbol(symbol string) {
	r.deactivate()
	r.symbolGen++
	r.symbol = symbol

	var zero R
	r.record = zero
	r.has = false
	r.lastErr = nil
	r.load.reset()

	r.activate()
	r.publish()
}

func (r *Reconciler[R, T]) publish() {
	v := View[R]{
		Symbol:    r.symbol,
		State:     r.load.state,
		Mode:      r.active,
		Session:   r.session,
		Record:    r.record,
		HasRecord: r.has,
		UpdatedAt: r.now(),
	}
	if r.load.state == StateError && r.lastErr != nil {
		v.Error = r.lastErr.Error()
	}

	r.mu.Lock()
	r.view = v
	subs := make([]chan View[R], 0, len(r.subs))
	for _, ch := range r.subs {
		subs = append(subs, ch)
	}
	r.mu.Unlock()

	for _, ch := range subs {
		fanout.Offer(ch, v)
	}
}
