package reconciler

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/tickerboard/internal/connection"
	"github.com/rickgao/tickerboard/internal/model"
	"github.com/rickgao/tickerboard/internal/session"
)

// fakeSessions is a SessionSource driven by the test.
type fakeSessions struct {
	mu  sync.Mutex
	cur session.State
	ch  chan session.State
}

func newFakeSessions(status session.Status) *fakeSessions {
	return &fakeSessions{
		cur: session.State{Status: status},
		ch:  make(chan session.State, 8),
	}
}

func (f *fakeSessions) Current() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur
}

func (f *fakeSessions) Subscribe() (<-chan session.State, func()) {
	return f.ch, func() {}
}

func (f *fakeSessions) set(status session.Status) {
	st := session.State{Status: status}
	f.mu.Lock()
	f.cur = st
	f.mu.Unlock()
	f.ch <- st
}

// fakeQuotes is a scripted QuoteSource.
type fakeQuotes struct {
	calls   atomic.Int32
	extCall atomic.Int32
	quote   func(ctx context.Context, call int, symbol string) (model.PriceRecord, error)
	ext     func(symbol string, previousClose float64) (model.ExtendedHours, error)
}

func (f *fakeQuotes) GetQuote(ctx context.Context, symbol string) (model.PriceRecord, error) {
	n := int(f.calls.Add(1))
	return f.quote(ctx, n, symbol)
}

func (f *fakeQuotes) GetExtendedHours(ctx context.Context, symbol string, previousClose float64) (model.ExtendedHours, error) {
	f.extCall.Add(1)
	if f.ext == nil {
		return model.ExtendedHours{}, errors.New("no extended data")
	}
	return f.ext(symbol, previousClose)
}

// fakeFeed is an in-memory Feed.
type fakeFeed[T any] struct {
	mu           sync.Mutex
	handlers     map[string]func(T)
	subscribes   int
	unsubscribes int
	callbacks    map[int]func()
	nextID       int
	failed       bool
	inits        int
}

func newFakeFeed[T any]() *fakeFeed[T] {
	return &fakeFeed[T]{handlers: map[string]func(T){}, callbacks: map[int]func(){}}
}

func (f *fakeFeed[T]) Init(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	f.failed = false
}

func (f *fakeFeed[T]) Subscribe(symbol string, fn func(T)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[symbol] = fn
	f.subscribes++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, symbol)
		f.unsubscribes++
	}
}

func (f *fakeFeed[T]) OnConnectionFailed(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.callbacks[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.callbacks, id)
	}
}

func (f *fakeFeed[T]) Failed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

func (f *fakeFeed[T]) handler(symbol string) func(T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[symbol]
}

func (f *fakeFeed[T]) counts() (subs, unsubs, callbacks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.unsubscribes, len(f.callbacks)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func stop(t *testing.T, r interface{ Stop(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func aapl(current float64, ts int64) model.PriceRecord {
	rec := model.PriceRecord{
		Symbol:    "AAPL",
		Current:   current,
		Open:      180,
		High:      185,
		Low:       179,
		Close:     180,
		Volume:    1000,
		Timestamp: ts,
	}
	rec.Change, rec.ChangePercent = model.ChangeFrom(rec.Current, rec.Close)
	return rec
}

const baseTS = int64(1721059200000) // 2024-07-15 16:00 UTC

func TestPriceReconciler_KeepsValueAfterFailure(t *testing.T) {
	var failing atomic.Bool
	quotes := &fakeQuotes{
		quote: func(ctx context.Context, call int, symbol string) (model.PriceRecord, error) {
			if failing.Load() {
				return model.PriceRecord{}, errors.New("upstream 503")
			}
			return aapl(182, baseTS), nil
		},
	}

	r := NewPriceReconciler(Config{Symbol: "AAPL", PollInterval: 10 * time.Millisecond}, quotes, nil, newFakeSessions(session.StatusClosed), nil)
	r.Start(context.Background())
	defer stop(t, r)

	waitFor(t, "first value", func() bool { return r.Snapshot().State == StateLive })
	first := r.Snapshot()
	if !first.HasRecord || first.Record.Current != 182 {
		t.Fatalf("first view = %+v", first)
	}

	failing.Store(true)
	calls := quotes.calls.Load()
	waitFor(t, "failed polls", func() bool { return quotes.calls.Load() >= calls+3 })

	v := r.Snapshot()
	if v.State == StateError || v.State == StateLoading || v.State == StateIdle {
		t.Errorf("State = %s after failures, want live or stale", v.State)
	}
	if v.Error != "" {
		t.Errorf("Error = %q, want empty after first success", v.Error)
	}
	if !v.HasRecord || !reflect.DeepEqual(v.Record, first.Record) {
		t.Errorf("Record = %+v, want %+v", v.Record, first.Record)
	}
	if v.Mode != ModePolling {
		t.Errorf("Mode = %s, want polling", v.Mode)
	}
}

func TestPriceReconciler_ErrorBeforeFirstSuccess(t *testing.T) {
	quotes := &fakeQuotes{
		quote: func(ctx context.Context, call int, symbol string) (model.PriceRecord, error) {
			return model.PriceRecord{}, errors.New("symbol not found")
		},
	}

	r := NewPriceReconciler(Config{Symbol: "NOPE", PollInterval: time.Hour}, quotes, nil, newFakeSessions(session.StatusClosed), nil)
	r.Start(context.Background())
	defer stop(t, r)

	waitFor(t, "error state", func() bool { return r.Snapshot().State == StateError })
	v := r.Snapshot()
	if !strings.Contains(v.Error, "symbol not found") {
		t.Errorf("Error = %q, want provider message", v.Error)
	}
	if v.HasRecord {
		t.Error("HasRecord should be false")
	}
}

func TestPriceReconciler_StreamingTicks(t *testing.T) {
	release := make(chan struct{})
	quotes := &fakeQuotes{
		quote: func(ctx context.Context, call int, symbol string) (model.PriceRecord, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return model.PriceRecord{}, ctx.Err()
			}
			return aapl(182, baseTS), nil
		},
	}
	feed := newFakeFeed[model.Trade]()

	r := NewPriceReconciler(Config{Symbol: "AAPL"}, quotes, feed, newFakeSessions(session.StatusOpen), nil)
	r.Start(context.Background())
	defer stop(t, r)

	waitFor(t, "subscription", func() bool { return feed.handler("AAPL") != nil })
	if got := r.Snapshot(); got.Mode != ModeStreaming {
		t.Errorf("Mode = %s, want streaming", got.Mode)
	}

	// Arrives before the baseline and is held until it lands.
	feed.handler("AAPL")(model.Trade{Symbol: "AAPL", Price: 183, Volume: 10, Timestamp: baseTS + 1000})
	close(release)

	waitFor(t, "baseline", func() bool { return r.Snapshot().HasRecord })
	waitFor(t, "queued tick", func() bool { return r.Snapshot().Record.Current == 183 })

	rec := r.Snapshot().Record
	if rec.Volume != 1010 {
		t.Errorf("Volume = %v, want 1010", rec.Volume)
	}

	feed.handler("AAPL")(model.Trade{Symbol: "AAPL", Price: 190, Volume: 5, Timestamp: baseTS + 2000})
	waitFor(t, "second tick", func() bool { return r.Snapshot().Record.Current == 190 })

	rec = r.Snapshot().Record
	if math.Abs(rec.Change-10) > 1e-9 {
		t.Errorf("Change = %v, want 10 (against the session close)", rec.Change)
	}
	if rec.High != 190 {
		t.Errorf("High = %v, want 190", rec.High)
	}
	if rec.Volume != 1015 {
		t.Errorf("Volume = %v, want 1015", rec.Volume)
	}

	// Older trades never move the price back.
	feed.handler("AAPL")(model.Trade{Symbol: "AAPL", Price: 150, Volume: 1, Timestamp: baseTS})
	feed.handler("AAPL")(model.Trade{Symbol: "AAPL", Price: 191, Volume: 1, Timestamp: baseTS + 3000})
	waitFor(t, "third tick", func() bool { return r.Snapshot().Record.Current == 191 })
	if r.Snapshot().Record.Low == 150 {
		t.Error("stale trade widened the range")
	}
	if quotes.extCall.Load() != 0 {
		t.Errorf("extended hours fetched %d times during the open session", quotes.extCall.Load())
	}
}

func TestPriceReconciler_ExtendedHoursReplaceCurrent(t *testing.T) {
	quotes := &fakeQuotes{
		quote: func(ctx context.Context, call int, symbol string) (model.PriceRecord, error) {
			return aapl(182, baseTS), nil
		},
		ext: func(symbol string, previousClose float64) (model.ExtendedHours, error) {
			return model.ExtendedHours{
				PreMarket:  model.NewExtendedQuote(184, previousClose, baseTS+1),
				PostMarket: model.NewExtendedQuote(181, previousClose, baseTS+2),
			}, nil
		},
	}

	sessions := newFakeSessions(session.StatusPre)
	r := NewPriceReconciler(Config{Symbol: "AAPL", PollInterval: time.Hour}, quotes, newFakeFeed[model.Trade](), sessions, nil)
	r.Start(context.Background())
	defer stop(t, r)

	waitFor(t, "pre-market value", func() bool { return r.Snapshot().Record.Current == 184 })
	rec := r.Snapshot().Record
	if rec.RegularMarketPrice == nil || *rec.RegularMarketPrice != 182 {
		t.Errorf("RegularMarketPrice = %v, want 182", rec.RegularMarketPrice)
	}
	if math.Abs(rec.Change-4) > 1e-9 {
		t.Errorf("Change = %v, want 4 against the previous close", rec.Change)
	}

	// A status change while polling refetches and switches sides.
	sessions.set(session.StatusPost)
	waitFor(t, "post-market value", func() bool { return r.Snapshot().Record.Current == 181 })
	rec = r.Snapshot().Record
	if rec.RegularMarketPrice == nil || *rec.RegularMarketPrice != 182 {
		t.Errorf("RegularMarketPrice = %v, want 182", rec.RegularMarketPrice)
	}
}

func TestPriceReconciler_StreamFailureFallsBackToPolling(t *testing.T) {
	var dials atomic.Int32
	cfg := connection.DefaultTransportConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxAttempts = 5

	feed := connection.NewTransport[model.Trade](cfg, connection.TradeProtocol{}, nil,
		connection.WithDialer(func(ctx context.Context, token string) (connection.Client, error) {
			dials.Add(1)
			return nil, errors.New("connection refused")
		}),
		connection.WithScheduler(func(d time.Duration, fn func()) func() {
			fn()
			return func() {}
		}),
		connection.WithSpawn(func(fn func()) { fn() }),
	)
	defer feed.Close()

	quotes := &fakeQuotes{
		quote: func(ctx context.Context, call int, symbol string) (model.PriceRecord, error) {
			return aapl(182, baseTS+int64(call)), nil
		},
	}

	sessions := newFakeSessions(session.StatusOpen)
	r := NewPriceReconciler(Config{Symbol: "AAPL", PollInterval: 10 * time.Millisecond, Token: "tok"}, quotes, feed, sessions, nil)
	r.Start(context.Background())
	defer stop(t, r)

	waitFor(t, "fallback to polling", func() bool {
		v := r.Snapshot()
		return v.Mode == ModePolling && v.Session.Status == session.StatusOpen
	})
	if got := dials.Load(); got != 6 {
		t.Errorf("dials = %d, want 6", got)
	}

	calls := quotes.calls.Load()
	waitFor(t, "polling during the open session", func() bool { return quotes.calls.Load() >= calls+2 })
	if v := r.Snapshot(); v.State != StateLive && v.State != StateStale {
		t.Errorf("State = %s, want live or stale", v.State)
	}

	// Re-entering the open session retries the stream once.
	sessions.set(session.StatusClosed)
	sessions.set(session.StatusOpen)
	waitFor(t, "second streaming attempt", func() bool { return dials.Load() == 12 })
	waitFor(t, "fallback again", func() bool {
		v := r.Snapshot()
		return v.Mode == ModePolling && v.Session.Status == session.StatusOpen
	})
}

func TestReconciler_SetSymbolDiscardsInFlight(t *testing.T) {
	releaseOld := make(chan struct{})
	quotes := &fakeQuotes{
		quote: func(ctx context.Context, call int, symbol string) (model.PriceRecord, error) {
			if symbol == "OLD" {
				select {
				case <-releaseOld:
				case <-ctx.Done():
					return model.PriceRecord{}, ctx.Err()
				}
			}
			rec := aapl(100, baseTS)
			rec.Symbol = symbol
			return rec, nil
		},
	}
	feed := newFakeFeed[model.Trade]()

	r := NewPriceReconciler(Config{Symbol: "OLD"}, quotes, feed, newFakeSessions(session.StatusOpen), nil)
	r.Start(context.Background())
	defer stop(t, r)

	waitFor(t, "old subscription", func() bool { return feed.handler("OLD") != nil })
	oldHandler := feed.handler("OLD")

	r.SetSymbol("NEW")
	waitFor(t, "new value", func() bool {
		v := r.Snapshot()
		return v.HasRecord && v.Record.Symbol == "NEW"
	})
	if feed.handler("OLD") != nil {
		t.Error("old symbol still subscribed")
	}

	close(releaseOld)
	oldHandler(model.Trade{Symbol: "OLD", Price: 1, Volume: 1, Timestamp: baseTS + 1})
	time.Sleep(50 * time.Millisecond)

	v := r.Snapshot()
	if v.Symbol != "NEW" || v.Record.Symbol != "NEW" || v.Record.Current != 100 {
		t.Errorf("view = %+v, want untouched NEW record", v)
	}
}

func TestReconciler_StopReleasesFeed(t *testing.T) {
	quotes := &fakeQuotes{
		quote: func(ctx context.Context, call int, symbol string) (model.PriceRecord, error) {
			return aapl(182, baseTS), nil
		},
	}
	feed := newFakeFeed[model.Trade]()

	r := NewPriceReconciler(Config{Symbol: "AAPL"}, quotes, feed, newFakeSessions(session.StatusOpen), nil)
	r.Start(context.Background())

	waitFor(t, "subscription", func() bool { return feed.handler("AAPL") != nil })
	stop(t, r)

	subs, unsubs, callbacks := feed.counts()
	if subs != 1 || unsubs != 1 {
		t.Errorf("subscribes/unsubscribes = %d/%d, want 1/1", subs, unsubs)
	}
	if callbacks != 0 {
		t.Errorf("failure callbacks still registered: %d", callbacks)
	}
}

func TestReconciler_SubscribeReceivesViews(t *testing.T) {
	quotes := &fakeQuotes{
		quote: func(ctx context.Context, call int, symbol string) (model.PriceRecord, error) {
			return aapl(182, baseTS), nil
		},
	}

	r := NewPriceReconciler(Config{Symbol: "AAPL", PollInterval: time.Hour}, quotes, nil, newFakeSessions(session.StatusClosed), nil)
	views, cancel := r.Subscribe()
	defer cancel()

	r.Start(context.Background())
	defer stop(t, r)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case v := <-views:
			if v.State == StateLive {
				if v.Record.Current != 182 {
					t.Errorf("Current = %v, want 182", v.Record.Current)
				}
				return
			}
		case <-timeout:
			t.Fatal("timeout waiting for live view")
		}
	}
}

func TestIndexReconciler_Ticks(t *testing.T) {
	source := indexSourceFunc(func(ctx context.Context, symbol string) (model.IndexQuote, error) {
		return model.IndexQuote{
			Symbol:        symbol,
			Price:         5050,
			PreviousClose: 5000,
			DayHigh:       5060,
			DayLow:        4990,
			Timestamp:     baseTS,
			MarketHours:   model.HoursRegular,
		}, nil
	})
	feed := newFakeFeed[model.IndexTick]()

	r := NewIndexReconciler(Config{Symbol: "^GSPC"}, source, feed, newFakeSessions(session.StatusOpen), nil)
	r.Start(context.Background())
	defer stop(t, r)

	waitFor(t, "baseline", func() bool { return r.Snapshot().HasRecord })
	waitFor(t, "subscription", func() bool { return feed.handler("^GSPC") != nil })

	feed.handler("^GSPC")(model.IndexTick{Symbol: "^GSPC", Price: 5100, Timestamp: baseTS + 1000, MarketHours: model.HoursRegular})
	waitFor(t, "tick", func() bool { return r.Snapshot().Record.Price == 5100 })

	q := r.Snapshot().Record
	if q.DayHigh != 5100 || q.DayLow != 4990 {
		t.Errorf("range = [%v, %v], want [4990, 5100]", q.DayLow, q.DayHigh)
	}
	if math.Abs(q.Change-100) > 1e-9 || math.Abs(q.ChangePercent-2) > 1e-9 {
		t.Errorf("change = %v (%v%%), want 100 (2%%)", q.Change, q.ChangePercent)
	}
}

func TestIndexReconciler_DefaultPollInterval(t *testing.T) {
	r := NewIndexReconciler(Config{Symbol: "^DJI"}, nil, nil, newFakeSessions(session.StatusClosed), nil)
	if r.cfg.PollInterval != DefaultIndexPollInterval {
		t.Errorf("PollInterval = %v, want %v", r.cfg.PollInterval, DefaultIndexPollInterval)
	}
}

type indexSourceFunc func(ctx context.Context, symbol string) (model.IndexQuote, error)

func (f indexSourceFunc) GetIndexQuote(ctx context.Context, symbol string) (model.IndexQuote, error) {
	return f(ctx, symbol)
}
