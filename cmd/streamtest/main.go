// streamtest subscribes to one live feed and prints decoded ticks.
// Usage: go run ./cmd/streamtest --config configs/tickerboard.yaml --feed trades --symbols AAPL,MSFT
//
// The trade feed needs api.token in the config (FINNHUB_TOKEN when the
// file references ${FINNHUB_TOKEN}).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rickgao/tickerboard/internal/config"
	"github.com/rickgao/tickerboard/internal/connection"
	"github.com/rickgao/tickerboard/internal/logging"
	"github.com/rickgao/tickerboard/internal/model"
	"github.com/rickgao/tickerboard/internal/writer"
)

// feed is what printing needs from a Transport of any tick type.
type feed interface {
	IsConnected() bool
	State() connection.ReconnectState
	OnConnectionFailed(fn func()) func()
	Close() error
}

func main() {
	configPath := flag.String("config", "configs/tickerboard.yaml", "path to config file")
	feedName := flag.String("feed", "trades", "feed to stream: trades or indices")
	symbolList := flag.String("symbols", "AAPL,MSFT", "comma-separated symbols")
	verbose := flag.Bool("verbose", false, "print full tick JSON")
	flag.Parse()

	logger := logging.New("debug", "text")

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	symbols := splitSymbols(*symbolList)
	if len(symbols) == 0 {
		logger.Error("no symbols given")
		os.Exit(1)
	}

	ticks := writer.NewGrowableBuffer[any](256)

	var f feed
	switch *feedName {
	case "trades":
		t := connection.NewTransport[model.Trade](streamConfig(cfg, cfg.Stream.TradeURL), connection.TradeProtocol{}, logger)
		t.Init(cfg.API.Token)
		for _, s := range symbols {
			t.Subscribe(s, func(tr model.Trade) { ticks.Send(tr) })
		}
		f = t
	case "indices":
		t := connection.NewTransport[model.IndexTick](streamConfig(cfg, cfg.Stream.IndexURL), connection.IndexProtocol{}, logger)
		for _, s := range symbols {
			t.Subscribe(s, func(it model.IndexTick) { ticks.Send(it) })
		}
		f = t
	default:
		logger.Error("unknown feed", "feed", *feedName)
		os.Exit(1)
	}

	f.OnConnectionFailed(func() {
		logger.Error("feed gave up reconnecting", "state", f.State())
		cancel()
	})

	go printTicks(ticks, *verbose)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := ticks.Stats()
				logger.Info("stats",
					"connected", f.IsConnected(),
					"attempt", f.State().Attempt,
					"ticks", st.Sent,
					"queued", st.Count,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "feed", *feedName, "symbols", symbols)
	<-ctx.Done()

	logger.Info("shutting down...")
	f.Close()
	ticks.Close()
	logger.Info("shutdown complete")
}

func streamConfig(cfg *config.BoardConfig, url string) connection.TransportConfig {
	tc := connection.DefaultTransportConfig()
	tc.Client.URL = url
	tc.BaseDelay = cfg.Stream.ReconnectBaseDelay
	tc.MaxDelay = cfg.Stream.ReconnectMaxDelay
	tc.MaxAttempts = cfg.Stream.MaxAttempts
	return tc
}

func splitSymbols(list string) []string {
	var out []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func printTicks(buf *writer.GrowableBuffer[any], verbose bool) {
	for {
		tick, ok := buf.Receive()
		if !ok {
			return
		}
		if verbose {
			data, _ := json.MarshalIndent(tick, "", "  ")
			fmt.Printf("%s\n", data)
			continue
		}
		switch t := tick.(type) {
		case model.Trade:
			fmt.Printf("[TRADE] %s price=%.4f vol=%.0f ts=%s\n",
				t.Symbol, t.Price, t.Volume, time.UnixMilli(t.Timestamp).Format(time.RFC3339Nano))
		case model.IndexTick:
			fmt.Printf("[INDEX] %s price=%.4f change=%.4f (%.2f%%) hours=%s\n",
				t.Symbol, t.Price, t.Change, t.ChangePercent, t.MarketHours)
		}
	}
}
