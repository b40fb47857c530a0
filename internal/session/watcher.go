package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/tickerboard/internal/fanout"
)

// Watcher re-classifies the session at each minute boundary and notifies
// subscribers when the status or DST flag changes.
type Watcher struct {
	clock  *Clock
	logger *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu      sync.RWMutex
	current State
	subs    map[int]chan State
	nextID  int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithNow overrides the wall clock.
func WithNow(now func() time.Time) WatcherOption {
	return func(w *Watcher) {
		w.now = now
	}
}

// WithAfter overrides the timer used to wait for the next boundary.
func WithAfter(after func(time.Duration) <-chan time.Time) WatcherOption {
	return func(w *Watcher) {
		w.after = after
	}
}

// NewWatcher creates a Watcher. The initial state is computed immediately.
func NewWatcher(clock *Clock, logger *slog.Logger, opts ...WatcherOption) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		clock:  clock,
		logger: logger,
		now:    time.Now,
		after:  time.After,
		subs:   make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.current = w.clock.Classify(w.now())
	return w
}

// Start begins evaluating the session on minute boundaries.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run(ctx)

	cur := w.Current()
	w.logger.Info("session watcher started",
		"status", cur.Status,
		"dst", cur.IsDST,
	)
	return nil
}

// Stop halts the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Current returns the most recently evaluated state.
func (w *Watcher) Current() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe returns a channel receiving each new state. Slow readers only
// see the latest value. The returned func cancels the subscription.
func (w *Watcher) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.subs[id] = ch
	w.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
		})
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		now := w.now()
		wait := NextMinuteBoundary(now).Sub(now)

		select {
		case <-ctx.Done():
			return
		case <-w.after(wait):
			w.evaluate()
		}
	}
}

func (w *Watcher) evaluate() {
	st := w.clock.Classify(w.now())

	w.mu.Lock()
	prev := w.current
	if st.Status == prev.Status && st.IsDST == prev.IsDST {
		w.mu.Unlock()
		return
	}
	w.current = st
	subs := make([]chan State, 0, len(w.subs))
	for _, ch := range w.subs {
		subs = append(subs, ch)
	}
	w.mu.Unlock()

	w.logger.Info("market session changed",
		"from", prev.Status,
		"to", st.Status,
		"dst", st.IsDST,
	)

	for _, ch := range subs {
		fanout.Offer(ch, st)
	}
}
