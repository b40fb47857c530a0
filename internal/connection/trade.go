package connection

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/rickgao/tickerboard/internal/model"
)

// tradeFrame is an inbound frame on the equity trade feed.
type tradeFrame struct {
	Type string       `json:"type"`
	Data []tradeEntry `json:"data"`
	Msg  string       `json:"msg"`
}

type tradeEntry struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p"`
	Timestamp int64   `json:"t"`
	Volume    float64 `json:"v"`
}

type tradeCommand struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// TradeProtocol is the JSON equity trade feed. The feed accepts one symbol
// per command, so batches become one frame per symbol.
type TradeProtocol struct{}

// Name returns the feed name.
func (TradeProtocol) Name() string { return "trades" }

// SubscribeFrames returns one subscribe command per symbol.
func (TradeProtocol) SubscribeFrames(symbols []string) [][]byte {
	return tradeCommands("subscribe", symbols)
}

// UnsubscribeFrames returns one unsubscribe command per symbol.
func (TradeProtocol) UnsubscribeFrames(symbols []string) [][]byte {
	return tradeCommands("unsubscribe", symbols)
}

func tradeCommands(kind string, symbols []string) [][]byte {
	frames := make([][]byte, 0, len(symbols))
	for _, s := range symbols {
		data, err := json.Marshal(tradeCommand{Type: kind, Symbol: s})
		if err != nil {
			continue
		}
		frames = append(frames, data)
	}
	return frames
}

// Decode parses a trade frame. Pings and unknown types yield nothing.
func (TradeProtocol) Decode(frame []byte) ([]model.Trade, error) {
	var f tradeFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return nil, fmt.Errorf("decode trade frame: %w", err)
	}

	switch f.Type {
	case "trade":
		trades := make([]model.Trade, 0, len(f.Data))
		for _, e := range f.Data {
			if e.Symbol == "" {
				continue
			}
			trades = append(trades, model.Trade{
				Symbol:    e.Symbol,
				Price:     e.Price,
				Volume:    e.Volume,
				Timestamp: e.Timestamp,
			})
		}
		return trades, nil
	case "error":
		return nil, fmt.Errorf("feed error: %s", f.Msg)
	default:
		return nil, nil
	}
}

// Symbol returns the trade's symbol.
func (TradeProtocol) Symbol(t model.Trade) string { return t.Symbol }
