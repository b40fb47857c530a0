package watchlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rickgao/tickerboard/internal/settings"
)

// StoreKey is the settings key holding the watchlist.
const StoreKey = "watchlist"

// Config holds Registry configuration.
type Config struct {
	Defaults          []Instrument  // Seed list used when the store is empty
	ReconcileInterval time.Duration // How often to re-read the store
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Defaults: []Instrument{
			{Symbol: "AAPL", Kind: KindEquity},
			{Symbol: "MSFT", Kind: KindEquity},
			{Symbol: "^GSPC", Kind: KindIndex},
		},
		ReconcileInterval: time.Minute,
	}
}

// registryImpl implements the Registry interface.
type registryImpl struct {
	cfg    Config
	store  settings.Store
	logger *slog.Logger

	state *registryState

	// Serializes read-modify-write cycles against the store.
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a new watchlist Registry.
func NewRegistry(cfg Config, store settings.Store, logger *slog.Logger) Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &registryImpl{
		cfg:    cfg,
		store:  store,
		logger: logger,
		state:  newState(),
	}
}

// Start loads the watchlist and begins reconciliation in the background.
func (r *registryImpl) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	// Initial sync (blocking).
	if err := r.initialSync(r.ctx); err != nil {
		r.cancel()
		return err
	}

	if r.cfg.ReconcileInterval > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.reconciliationLoop(r.ctx)
		}()
	}

	r.logger.Info("watchlist started", "instruments", len(r.state.list()))
	return nil
}

// Stop gracefully shuts down.
func (r *registryImpl) Stop(ctx context.Context) error {
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
		r.logger.Info("watchlist stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *registryImpl) List() []Instrument {
	return r.state.list()
}

func (r *registryImpl) Get(symbol string) (Instrument, bool) {
	return r.state.get(symbol)
}

func (r *registryImpl) SubscribeChanges() <-chan Change {
	return r.state.changes
}

// Add inserts inst and persists the list.
func (r *registryImpl) Add(ctx context.Context, inst Instrument) error {
	inst, err := normalize(inst)
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.state.mu.Lock()
	if !r.state.addLocked(inst) {
		r.state.mu.Unlock()
		return nil
	}
	list := r.state.listLocked()
	r.state.mu.Unlock()

	if err := r.persist(ctx, list); err != nil {
		r.state.mu.Lock()
		r.state.removeLocked(inst.Symbol)
		r.state.mu.Unlock()
		return err
	}

	r.state.notifyChange(Change{Symbol: inst.Symbol, EventType: "added", Instrument: &inst})
	r.logger.Info("watchlist add", "symbol", inst.Symbol, "kind", inst.Kind)
	return nil
}

// Remove deletes symbol and persists the list.
func (r *registryImpl) Remove(ctx context.Context, symbol string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.state.mu.Lock()
	prev, ok := r.state.items[symbol]
	if !ok {
		r.state.mu.Unlock()
		return nil
	}
	before := r.state.listLocked()
	r.state.removeLocked(symbol)
	list := r.state.listLocked()
	r.state.mu.Unlock()

	if err := r.persist(ctx, list); err != nil {
		r.state.mu.Lock()
		r.state.items = make(map[string]Instrument, len(before))
		r.state.order = r.state.order[:0]
		for _, inst := range before {
			r.state.addLocked(inst)
		}
		r.state.mu.Unlock()
		return err
	}

	r.state.notifyChange(Change{Symbol: symbol, EventType: "removed"})
	r.logger.Info("watchlist remove", "symbol", symbol, "kind", prev.Kind)
	return nil
}

// normalize trims the symbol and fills in the kind.
func normalize(inst Instrument) (Instrument, error) {
	inst.Symbol = strings.TrimSpace(inst.Symbol)
	if inst.Symbol == "" {
		return Instrument{}, errors.New("watchlist: empty symbol")
	}
	switch inst.Kind {
	case "":
		inst.Kind = KindFor(inst.Symbol)
	case KindEquity, KindIndex:
	default:
		return Instrument{}, fmt.Errorf("watchlist: unknown kind %q", inst.Kind)
	}
	return inst, nil
}

func (r *registryImpl) persist(ctx context.Context, list []Instrument) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode watchlist: %w", err)
	}
	if err := r.store.Put(ctx, StoreKey, data); err != nil {
		return fmt.Errorf("save watchlist: %w", err)
	}
	return nil
}

// load reads the stored list. found is false when nothing has been stored.
func (r *registryImpl) load(ctx context.Context) (list []Instrument, found bool, err error) {
	data, err := r.store.Get(ctx, StoreKey)
	if errors.Is(err, settings.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load watchlist: %w", err)
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, false, fmt.Errorf("decode watchlist: %w", err)
	}

	out := make([]Instrument, 0, len(list))
	for _, inst := range list {
		inst, err := normalize(inst)
		if err != nil {
			r.logger.Warn("skipping stored instrument", "err", err)
			continue
		}
		out = append(out, inst)
	}
	return out, true, nil
}
