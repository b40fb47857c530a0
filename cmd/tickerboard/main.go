// tickerboard tracks a watchlist of equities and indices, reconciling REST
// snapshots with live feeds, and serves the results over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/tickerboard/internal/api"
	"github.com/rickgao/tickerboard/internal/board"
	"github.com/rickgao/tickerboard/internal/config"
	"github.com/rickgao/tickerboard/internal/connection"
	"github.com/rickgao/tickerboard/internal/database"
	"github.com/rickgao/tickerboard/internal/logging"
	"github.com/rickgao/tickerboard/internal/model"
	"github.com/rickgao/tickerboard/internal/session"
	"github.com/rickgao/tickerboard/internal/settings"
	"github.com/rickgao/tickerboard/internal/version"
	"github.com/rickgao/tickerboard/internal/watchlist"
	"github.com/rickgao/tickerboard/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/tickerboard.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format).With("instance", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting tickerboard",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("tickerboard failed", "error", err)
		os.Exit(1)
	}
	logger.Info("tickerboard stopped")
}

func run(cfg *config.BoardConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Local settings and watchlist
	store, err := settings.OpenSQLite(cfg.Settings.SQLitePath)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	defer store.Close()

	registry := watchlist.NewRegistry(watchlist.Config{
		Defaults:          seedInstruments(cfg.Watchlist),
		ReconcileInterval: cfg.Watchlist.ReconcileInterval,
	}, store, logger)
	if err := registry.Start(ctx); err != nil {
		return fmt.Errorf("start watchlist: %w", err)
	}
	defer stopWithTimeout(logger, "watchlist", registry.Stop)

	// Market session
	var holidays session.HolidayCalendar
	if cfg.Session.Holidays {
		holidays = session.NYSECalendar()
	}
	sessions := session.NewWatcher(session.NewClock(holidays), logger)
	if err := sessions.Start(ctx); err != nil {
		return fmt.Errorf("start session watcher: %w", err)
	}
	defer stopWithTimeout(logger, "session watcher", sessions.Stop)
	logger.Info("market session", "status", sessions.Current().Status)

	// REST and streaming sources
	apiClient := api.NewClient(cfg.API.RestURL, cfg.API.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
		api.WithChartURL(cfg.API.ChartURL),
	)

	trades := connection.NewTransport[model.Trade](
		transportConfig("trades", cfg.Stream.TradeURL, cfg.Stream), connection.TradeProtocol{}, logger)
	trades.Init(cfg.API.Token)
	defer trades.Close()

	indices := connection.NewTransport[model.IndexTick](
		transportConfig("indices", cfg.Stream.IndexURL, cfg.Stream), connection.IndexProtocol{}, logger)
	indices.Init("")
	defer indices.Close()

	// Optional price history
	var (
		pool    *pgxpool.Pool
		history *writer.GrowableBuffer[writer.Snapshot]
	)
	if cfg.Database.Enabled {
		db := cfg.Database.History
		logger.Info("connecting to history database", "host", db.Host, "port", db.Port, "database", db.Name)

		pool, err = database.Connect(ctx, db)
		if err != nil {
			return fmt.Errorf("connect history database: %w", err)
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		history = writer.NewGrowableBuffer[writer.Snapshot](cfg.Writer.BufferSize)
		w := writer.NewSnapshotWriter(writer.WriterConfig{
			BatchSize:     cfg.Writer.BatchSize,
			FlushInterval: cfg.Writer.FlushInterval,
		}, history, pool, logger)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start snapshot writer: %w", err)
		}
		defer stopWithTimeout(logger, "snapshot writer", w.Stop)
	}

	b := board.New(board.Config{
		PollInterval:      cfg.Reconciler.PollInterval,
		IndexPollInterval: cfg.Reconciler.IndexPollInterval,
		SnapshotInterval:  cfg.Reconciler.SnapshotInterval,
		ResyncInterval:    cfg.Watchlist.ReconcileInterval,
		TradeToken:        cfg.API.Token,
	}, board.Deps{
		Quotes:    apiClient,
		Indices:   apiClient,
		Trades:    trades,
		IndexFeed: indices,
		Sessions:  sessions,
		Watchlist: registry,
		History:   history,
	}, logger)
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("start board: %w", err)
	}
	defer stopWithTimeout(logger, "board", b.Stop)

	srv := &server{
		board:  b,
		charts: apiClient,
		feeds: map[string]feedStatus{
			"trades":  trades,
			"indices": indices,
		},
		logger: logger,
		done:   ctx.Done(),
	}
	if pool != nil {
		srv.db = pool
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		cancel()
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	return nil
}

func transportConfig(name, url string, s config.StreamConfig) connection.TransportConfig {
	return connection.TransportConfig{
		Name: name,
		Client: connection.ClientConfig{
			URL:          url,
			PingInterval: s.PingInterval,
			PingTimeout:  s.PingTimeout,
			WriteTimeout: s.WriteTimeout,
			BufferSize:   s.BufferSize,
		},
		BaseDelay:   s.ReconnectBaseDelay,
		MaxDelay:    s.ReconnectMaxDelay,
		MaxAttempts: s.MaxAttempts,
		DialTimeout: s.DialTimeout,
	}
}

// seedInstruments turns the configured symbol lists into the first-run
// watchlist.
func seedInstruments(w config.WatchlistConfig) []watchlist.Instrument {
	out := make([]watchlist.Instrument, 0, len(w.Symbols)+len(w.Indices))
	for _, s := range w.Symbols {
		out = append(out, watchlist.Instrument{Symbol: s, Kind: watchlist.KindEquity})
	}
	for _, s := range w.Indices {
		out = append(out, watchlist.Instrument{Symbol: s, Kind: watchlist.KindIndex})
	}
	return out
}

func stopWithTimeout(logger *slog.Logger, name string, stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		logger.Warn("stop failed", "component", name, "error", err)
	}
}
