package watchlist

import (
	"context"
	"time"
)

// initialSync loads the stored watchlist, seeding it from the defaults on
// first run.
func (r *registryImpl) initialSync(ctx context.Context) error {
	list, found, err := r.load(ctx)
	if err != nil {
		return err
	}

	if !found {
		for _, inst := range r.cfg.Defaults {
			inst, err := normalize(inst)
			if err != nil {
				return err
			}
			list = append(list, inst)
		}
		if err := r.persist(ctx, list); err != nil {
			return err
		}
		r.logger.Info("seeded watchlist", "instruments", len(list))
	}

	r.state.mu.Lock()
	for _, inst := range list {
		if r.state.addLocked(inst) {
			inst := inst
			r.state.notifyChange(Change{Symbol: inst.Symbol, EventType: "added", Instrument: &inst})
		}
	}
	r.state.mu.Unlock()

	return nil
}

// reconciliationLoop periodically re-reads the store.
func (r *registryImpl) reconciliationLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

// reconcile applies external edits to the stored list.
func (r *registryImpl) reconcile(ctx context.Context) {
	start := time.Now()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	list, found, err := r.load(ctx)
	if err != nil {
		r.logger.Error("watchlist reconciliation failed", "err", err)
		return
	}
	if !found {
		return
	}

	stored := make(map[string]bool, len(list))
	for _, inst := range list {
		stored[inst.Symbol] = true
	}

	var added, removed int

	r.state.mu.Lock()
	for _, inst := range list {
		if r.state.addLocked(inst) {
			inst := inst
			r.state.notifyChange(Change{Symbol: inst.Symbol, EventType: "added", Instrument: &inst})
			added++
		}
	}
	for _, sym := range append([]string(nil), r.state.order...) {
		if !stored[sym] {
			r.state.removeLocked(sym)
			r.state.notifyChange(Change{Symbol: sym, EventType: "removed"})
			removed++
		}
	}
	r.state.mu.Unlock()

	if added > 0 || removed > 0 {
		r.logger.Info("watchlist reconciliation found changes",
			"added", added,
			"removed", removed,
			"duration", time.Since(start),
		)
	} else {
		r.logger.Debug("watchlist reconciliation complete",
			"instruments", len(list),
			"duration", time.Since(start),
		)
	}
}
