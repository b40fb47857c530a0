package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tickerboard/internal/fanout"
	"github.com/rickgao/tickerboard/internal/model"
	"github.com/rickgao/tickerboard/internal/poller"
	"github.com/rickgao/tickerboard/internal/reconciler"
	"github.com/rickgao/tickerboard/internal/watchlist"
	"github.com/rickgao/tickerboard/internal/writer"
)

// UpdateBufferSize is the per-subscriber queue length.
const UpdateBufferSize = 64

// Config holds board configuration.
type Config struct {
	PollInterval      time.Duration // Equity polling cadence
	IndexPollInterval time.Duration // Index polling cadence
	SnapshotInterval  time.Duration // History sampling cadence
	ResyncInterval    time.Duration // How often the full watchlist is re-read
	TradeToken        string        // Re-sent to the trade feed when streaming is retried
	IndexToken        string        // Re-sent to the index feed; usually empty
}

// Deps are the shared collaborators every reconciler uses. Trades,
// IndexFeed and History may be nil.
type Deps struct {
	Quotes    reconciler.QuoteSource
	Indices   reconciler.IndexSource
	Trades    reconciler.Feed[model.Trade]
	IndexFeed reconciler.Feed[model.IndexTick]
	Sessions  reconciler.SessionSource
	Watchlist watchlist.Registry
	History   *writer.GrowableBuffer[writer.Snapshot]
}

// Entry is the latest view of one instrument.
type Entry struct {
	Symbol string                `json:"symbol"`
	Kind   watchlist.Kind        `json:"kind"`
	Price  *reconciler.PriceView `json:"price,omitempty"`
	Index  *reconciler.IndexView `json:"index,omitempty"`
}

type item struct {
	inst   watchlist.Instrument
	price  *reconciler.PriceReconciler
	index  *reconciler.IndexReconciler
	cancel context.CancelFunc // stops the view forwarder
}

func (it *item) stop(ctx context.Context) error {
	it.cancel()
	if it.price != nil {
		return it.price.Stop(ctx)
	}
	return it.index.Stop(ctx)
}

func (it *item) entry() Entry {
	e := Entry{Symbol: it.inst.Symbol, Kind: it.inst.Kind}
	if it.price != nil {
		v := it.price.Snapshot()
		e.Price = &v
	} else {
		v := it.index.Snapshot()
		e.Index = &v
	}
	return e
}

// Board runs the reconcilers for the watchlist.
type Board struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	items map[string]*item

	subMu  sync.Mutex
	subs   map[int]chan Entry
	nextID int

	history *poller.Poller

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Board.
func New(cfg Config, deps Deps, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = time.Minute
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = time.Minute
	}
	return &Board{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		now:    time.Now,
		items:  make(map[string]*item),
		subs:   make(map[int]chan Entry),
	}
}

// Start creates reconcilers for the current watchlist and follows its
// changes. The watchlist must already be started.
func (b *Board) Start(ctx context.Context) error {
	if b.deps.Watchlist == nil || b.deps.Sessions == nil {
		return errors.New("board: watchlist and sessions are required")
	}
	b.ctx, b.cancel = context.WithCancel(ctx)

	for _, inst := range b.deps.Watchlist.List() {
		b.add(inst)
	}

	b.wg.Add(1)
	go b.followChanges(b.deps.Watchlist.SubscribeChanges())

	if b.deps.History != nil {
		b.history = poller.New(poller.Config{
			Name:        "history",
			Interval:    b.cfg.SnapshotInterval,
			Concurrency: 4,
		}, poller.SymbolSourceFunc(b.Symbols), poller.HandlerFunc(b.record), b.logger)
		if err := b.history.Start(b.ctx); err != nil {
			return fmt.Errorf("start history sampler: %w", err)
		}
	}

	b.logger.Info("board started", "instruments", len(b.Symbols()))
	return nil
}

// Stop stops every reconciler and waits for background work.
func (b *Board) Stop(ctx context.Context) error {
	if b.cancel == nil {
		return nil
	}
	b.cancel()

	b.mu.Lock()
	items := b.items
	b.items = make(map[string]*item)
	b.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, it := range items {
		g.Go(func() error { return it.stop(gctx) })
	}
	if b.history != nil {
		g.Go(func() error { return b.history.Stop(gctx) })
	}
	err := g.Wait()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	b.logger.Info("board stopped")
	return err
}

// Symbols returns the tracked symbols in sorted order.
func (b *Board) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.items))
	for s := range b.items {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Entries returns the latest view of every instrument in watchlist order.
func (b *Board) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Entry, 0, len(b.items))
	seen := make(map[string]bool, len(b.items))
	for _, inst := range b.deps.Watchlist.List() {
		if it, ok := b.items[inst.Symbol]; ok {
			out = append(out, it.entry())
			seen[inst.Symbol] = true
		}
	}
	// Removed from the watchlist but not yet stopped.
	for s, it := range b.items {
		if !seen[s] {
			out = append(out, it.entry())
		}
	}
	return out
}

// Entry returns the latest view of one instrument.
func (b *Board) Entry(symbol string) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	it, ok := b.items[symbol]
	if !ok {
		return Entry{}, false
	}
	return it.entry(), true
}

// Watch adds symbol to the watchlist. The kind is inferred from the symbol.
func (b *Board) Watch(ctx context.Context, symbol string) error {
	return b.deps.Watchlist.Add(ctx, watchlist.Instrument{Symbol: symbol})
}

// Unwatch removes symbol from the watchlist.
func (b *Board) Unwatch(ctx context.Context, symbol string) error {
	return b.deps.Watchlist.Remove(ctx, symbol)
}

// Subscribe returns a channel receiving every view change. A full channel
// drops its oldest entry. The returned func cancels the subscription.
func (b *Board) Subscribe() (<-chan Entry, func()) {
	ch := make(chan Entry, UpdateBufferSize)

	b.subMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.subs, id)
			b.subMu.Unlock()
		})
	}
}

func (b *Board) broadcast(e Entry) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, ch := range b.subs {
		fanout.Offer(ch, e)
	}
}

// followChanges applies watchlist changes as they arrive. The change channel
// drops its oldest entries when full, so the whole list is also re-read
// every ResyncInterval.
func (b *Board) followChanges(changes <-chan watchlist.Change) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case c := <-changes:
			switch c.EventType {
			case "added":
				if c.Instrument != nil {
					b.add(*c.Instrument)
				}
			case "removed":
				b.remove(c.Symbol)
			}
		case <-ticker.C:
			b.resync()
		}
	}
}

// resync starts reconcilers for listed instruments that have none and stops
// those whose instrument is no longer listed.
func (b *Board) resync() {
	want := make(map[string]bool)
	for _, inst := range b.deps.Watchlist.List() {
		want[inst.Symbol] = true
		b.add(inst)
	}

	var stale []string
	b.mu.RLock()
	for s := range b.items {
		if !want[s] {
			stale = append(stale, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range stale {
		b.logger.Warn("missed watchlist removal", "symbol", s)
		b.remove(s)
	}
}

// add starts a reconciler for inst unless one already runs.
func (b *Board) add(inst watchlist.Instrument) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.items[inst.Symbol]; ok || b.ctx.Err() != nil {
		return
	}

	logger := b.logger.With("symbol", inst.Symbol, "kind", inst.Kind)
	fwdCtx, cancel := context.WithCancel(b.ctx)
	it := &item{inst: inst, cancel: cancel}

	if inst.Kind == watchlist.KindIndex {
		cfg := reconciler.Config{Symbol: inst.Symbol, PollInterval: b.cfg.IndexPollInterval, Token: b.cfg.IndexToken}
		it.index = reconciler.NewIndexReconciler(cfg, b.deps.Indices, b.deps.IndexFeed, b.deps.Sessions, logger)
		views, unsub := it.index.Subscribe()
		b.forward(fwdCtx, unsub, func() (Entry, bool) {
			select {
			case v := <-views:
				return Entry{Symbol: inst.Symbol, Kind: inst.Kind, Index: &v}, true
			case <-fwdCtx.Done():
				return Entry{}, false
			}
		})
		it.index.Start(b.ctx)
	} else {
		cfg := reconciler.Config{Symbol: inst.Symbol, PollInterval: b.cfg.PollInterval, Token: b.cfg.TradeToken}
		it.price = reconciler.NewPriceReconciler(cfg, b.deps.Quotes, b.deps.Trades, b.deps.Sessions, logger)
		views, unsub := it.price.Subscribe()
		b.forward(fwdCtx, unsub, func() (Entry, bool) {
			select {
			case v := <-views:
				return Entry{Symbol: inst.Symbol, Kind: inst.Kind, Price: &v}, true
			case <-fwdCtx.Done():
				return Entry{}, false
			}
		})
		it.price.Start(b.ctx)
	}

	b.items[inst.Symbol] = it
	logger.Info("instrument added")
}

// forward relays views from next to subscribers until it reports done.
func (b *Board) forward(ctx context.Context, unsub func(), next func() (Entry, bool)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer unsub()
		for {
			e, ok := next()
			if !ok {
				return
			}
			b.broadcast(e)
		}
	}()
}

func (b *Board) remove(symbol string) {
	b.mu.Lock()
	it, ok := b.items[symbol]
	delete(b.items, symbol)
	b.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := it.stop(ctx); err != nil {
		b.logger.Warn("reconciler stop timed out", "symbol", symbol, "error", err)
	}
	b.logger.Info("instrument removed", "symbol", symbol)
}

// record samples one instrument into the history buffer.
func (b *Board) record(_ context.Context, symbol string) error {
	e, ok := b.Entry(symbol)
	if !ok {
		return nil
	}
	if s, ok := toSnapshot(e, b.now()); ok {
		b.deps.History.Send(s)
	}
	return nil
}

// toSnapshot converts an entry that has a record.
func toSnapshot(e Entry, at time.Time) (writer.Snapshot, bool) {
	s := writer.Snapshot{Symbol: e.Symbol, Kind: string(e.Kind), CapturedAt: at}
	switch {
	case e.Price != nil && e.Price.HasRecord:
		r := e.Price.Record
		s.Price, s.Change, s.ChangePercent = r.Current, r.Change, r.ChangePercent
		s.Volume = r.Volume
		s.QuoteTs = r.Timestamp
		s.Session, s.Mode = string(e.Price.Session.Status), string(e.Price.Mode)
	case e.Index != nil && e.Index.HasRecord:
		q := e.Index.Record
		s.Price, s.Change, s.ChangePercent = q.Price, q.Change, q.ChangePercent
		s.QuoteTs = q.Timestamp
		s.Session, s.Mode = string(e.Index.Session.Status), string(e.Index.Mode)
	default:
		return writer.Snapshot{}, false
	}
	return s, true
}
