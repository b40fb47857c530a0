package reconciler

import (
	"context"
	"log/slog"

	"github.com/rickgao/tickerboard/internal/model"
	"github.com/rickgao/tickerboard/internal/session"
)

// QuoteSource provides equity snapshots.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (model.PriceRecord, error)
	GetExtendedHours(ctx context.Context, symbol string, previousClose float64) (model.ExtendedHours, error)
}

// PriceReconciler reconciles one equity.
type PriceReconciler = Reconciler[model.PriceRecord, model.Trade]

// PriceView is the output of a PriceReconciler.
type PriceView = View[model.PriceRecord]

// PriceStrategy fetches quotes and applies trades. Outside the open session
// it also fetches extended-hours prices and shows the matching side.
type PriceStrategy struct {
	Source QuoteSource
	Logger *slog.Logger
}

// Fetch implements Strategy.
func (s PriceStrategy) Fetch(ctx context.Context, symbol string, st session.State) (Patch[model.PriceRecord], error) {
	snap, err := s.Source.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if st.Status == session.StatusOpen {
		return func(cur model.PriceRecord, has bool) model.PriceRecord {
			if !has {
				return snap.Regular()
			}
			return model.MergeQuote(cur, snap)
		}, nil
	}

	ext, extErr := s.Source.GetExtendedHours(ctx, symbol, snap.Close)
	if extErr != nil && s.Logger != nil {
		s.Logger.Debug("extended hours unavailable", "symbol", symbol, "error", extErr)
	}
	side := sideFor(st.Status)

	return func(cur model.PriceRecord, has bool) model.PriceRecord {
		merged := snap.Regular()
		if has {
			merged = model.MergeQuote(cur, snap)
		}
		e := ext
		if extErr != nil {
			// Keep whatever was last shown for this symbol.
			e = merged.Extended()
		}
		return model.MergeExtendedHours(merged, e, side)
	}, nil
}

// ApplyTick implements Strategy.
func (PriceStrategy) ApplyTick(cur model.PriceRecord, tick model.Trade) (model.PriceRecord, bool) {
	return model.ApplyTrade(cur, tick)
}

// sideFor returns the extended quote shown during status.
func sideFor(status session.Status) model.ExtendedSide {
	switch status {
	case session.StatusPre:
		return model.SidePre
	case session.StatusPost:
		return model.SidePost
	default:
		return model.SideNone
	}
}

// NewPriceReconciler creates a reconciler for an equity symbol.
func NewPriceReconciler(cfg Config, source QuoteSource, feed Feed[model.Trade], sessions SessionSource, logger *slog.Logger, opts ...Option) *PriceReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return New[model.PriceRecord, model.Trade](cfg, PriceStrategy{Source: source, Logger: logger}, feed, sessions, logger, opts...)
}
