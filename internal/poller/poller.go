package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SymbolSource provides the symbols to poll.
type SymbolSource interface {
	Symbols() []string
}

// SymbolSourceFunc is a function adapter for SymbolSource.
type SymbolSourceFunc func() []string

func (f SymbolSourceFunc) Symbols() []string { return f() }

// Static returns a SymbolSource that always yields symbols.
func Static(symbols ...string) SymbolSource {
	return SymbolSourceFunc(func() []string { return symbols })
}

// Handler polls one symbol.
type Handler interface {
	Poll(ctx context.Context, symbol string) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, symbol string) error

func (f HandlerFunc) Poll(ctx context.Context, symbol string) error {
	return f(ctx, symbol)
}

// Config holds poller configuration.
type Config struct {
	Name        string        // Label for logs
	Interval    time.Duration // Poll interval (default: 15s)
	Concurrency int           // Max concurrent tasks (default: 8)
	Timeout     time.Duration // Per-task timeout; zero means none
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:        "poller",
		Interval:    15 * time.Second,
		Concurrency: 8,
	}
}

// Poller periodically runs a Handler for every symbol from a SymbolSource.
type Poller struct {
	cfg     Config
	symbols SymbolSource
	handler Handler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, symbols SymbolSource, handler Handler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Name == "" {
		cfg.Name = "poller"
	}
	return &Poller{
		cfg:     cfg,
		symbols: symbols,
		handler: handler,
		logger:  logger.With("poller", cfg.Name),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Debug("poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop cancels the loop and waits for in-flight tasks.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug("poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll runs the handler for every symbol concurrently.
func (p *Poller) pollAll() {
	start := time.Now()

	symbols := p.symbols.Symbols()
	if len(symbols) == 0 {
		p.logger.Debug("no symbols to poll")
		return
	}

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var polled, errors atomic.Int64

	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			if err := p.pollSymbol(symbol); err != nil {
				p.logger.Debug("poll failed",
					"symbol", symbol,
					"err", err,
				)
				errors.Add(1)
				return
			}

			polled.Add(1)
		}(symbol)
	}

	wg.Wait()

	p.logger.Debug("poll cycle complete",
		"symbols", len(symbols),
		"polled", polled.Load(),
		"errors", errors.Load(),
		"duration", time.Since(start),
	)
}

func (p *Poller) pollSymbol(symbol string) error {
	ctx := p.ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(p.ctx, p.cfg.Timeout)
		defer cancel()
	}
	return p.handler.Poll(ctx, symbol)
}
