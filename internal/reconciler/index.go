package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/rickgao/tickerboard/internal/model"
	"github.com/rickgao/tickerboard/internal/session"
)

// DefaultIndexPollInterval is the polling cadence for indices outside the
// open session.
const DefaultIndexPollInterval = 60 * time.Second

// IndexSource provides index and FX snapshots.
type IndexSource interface {
	GetIndexQuote(ctx context.Context, symbol string) (model.IndexQuote, error)
}

// IndexReconciler reconciles one index or FX pair.
type IndexReconciler = Reconciler[model.IndexQuote, model.IndexTick]

// IndexView is the output of an IndexReconciler.
type IndexView = View[model.IndexQuote]

// IndexStrategy fetches index quotes and applies index ticks.
type IndexStrategy struct {
	Source IndexSource
}

// Fetch implements Strategy.
func (s IndexStrategy) Fetch(ctx context.Context, symbol string, _ session.State) (Patch[model.IndexQuote], error) {
	q, err := s.Source.GetIndexQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return func(cur model.IndexQuote, has bool) model.IndexQuote {
		if !has {
			return q
		}
		return model.MergeIndexQuote(cur, q)
	}, nil
}

// ApplyTick implements Strategy.
func (IndexStrategy) ApplyTick(cur model.IndexQuote, tick model.IndexTick) (model.IndexQuote, bool) {
	return model.ApplyIndexTick(cur, tick)
}

// NewIndexReconciler creates a reconciler for an index or FX symbol. A zero
// poll interval means DefaultIndexPollInterval.
func NewIndexReconciler(cfg Config, source IndexSource, feed Feed[model.IndexTick], sessions SessionSource, logger *slog.Logger, opts ...Option) *IndexReconciler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultIndexPollInterval
	}
	return New[model.IndexQuote, model.IndexTick](cfg, IndexStrategy{Source: source}, feed, sessions, logger, opts...)
}
