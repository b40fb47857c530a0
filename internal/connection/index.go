package connection

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"math"

	json "github.com/goccy/go-json"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/rickgao/tickerboard/internal/model"
)

// Pricing record field numbers.
const (
	fieldID            protowire.Number = 1
	fieldPrice         protowire.Number = 2
	fieldTime          protowire.Number = 3
	fieldMarketHours   protowire.Number = 7
	fieldChangePercent protowire.Number = 8
	fieldDayVolume     protowire.Number = 9
	fieldDayHigh       protowire.Number = 10
	fieldDayLow        protowire.Number = 11
	fieldChange        protowire.Number = 12
	fieldPreviousClose protowire.Number = 16
)

var errMissingID = errors.New("pricing record has no id")

type pricingEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// IndexProtocol is the index/FX feed: base64 protobuf pricing records,
// either bare or wrapped in a JSON envelope.
type IndexProtocol struct{}

// Name returns the feed name.
func (IndexProtocol) Name() string { return "indices" }

// SubscribeFrames returns a single subscribe frame for all symbols.
func (IndexProtocol) SubscribeFrames(symbols []string) [][]byte {
	return indexCommand("subscribe", symbols)
}

// UnsubscribeFrames returns a single unsubscribe frame for all symbols.
func (IndexProtocol) UnsubscribeFrames(symbols []string) [][]byte {
	return indexCommand("unsubscribe", symbols)
}

func indexCommand(kind string, symbols []string) [][]byte {
	if len(symbols) == 0 {
		return nil
	}
	data, err := json.Marshal(map[string][]string{kind: symbols})
	if err != nil {
		return nil
	}
	return [][]byte{data}
}

// Decode parses one pricing frame.
func (IndexProtocol) Decode(frame []byte) ([]model.IndexTick, error) {
	payload := bytes.TrimSpace(frame)
	if len(payload) > 0 && payload[0] == '{' {
		var env pricingEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, fmt.Errorf("decode pricing envelope: %w", err)
		}
		if env.Message == "" {
			return nil, nil
		}
		payload = []byte(env.Message)
	}

	raw := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(raw, payload)
	if err != nil {
		return nil, fmt.Errorf("decode pricing base64: %w", err)
	}

	tick, err := decodePricing(raw[:n])
	if err != nil {
		return nil, err
	}
	return []model.IndexTick{tick}, nil
}

// Symbol returns the tick's symbol.
func (IndexProtocol) Symbol(t model.IndexTick) string { return t.Symbol }

// decodePricing walks the protobuf fields of one pricing record. Unknown
// fields are skipped.
func decodePricing(b []byte) (model.IndexTick, error) {
	var tick model.IndexTick
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.IndexTick{}, fmt.Errorf("decode pricing tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.IndexTick{}, fmt.Errorf("decode pricing id: %w", protowire.ParseError(m))
			}
			tick.Symbol = v
			n = m
		case typ == protowire.Fixed32Type && isFloatField(num):
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return model.IndexTick{}, fmt.Errorf("decode pricing field %d: %w", num, protowire.ParseError(m))
			}
			setFloat(&tick, num, float64(math.Float32frombits(v)))
			n = m
		case typ == protowire.VarintType && (num == fieldTime || num == fieldDayVolume || num == fieldMarketHours):
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return model.IndexTick{}, fmt.Errorf("decode pricing field %d: %w", num, protowire.ParseError(m))
			}
			switch num {
			case fieldTime:
				tick.Timestamp = protowire.DecodeZigZag(v)
			case fieldDayVolume:
				tick.DayVolume = protowire.DecodeZigZag(v)
			case fieldMarketHours:
				tick.MarketHours = model.MarketHours(int32(v))
			}
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return model.IndexTick{}, fmt.Errorf("skip pricing field %d: %w", num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}

	if tick.Symbol == "" {
		return model.IndexTick{}, errMissingID
	}
	return tick, nil
}

func isFloatField(num protowire.Number) bool {
	switch num {
	case fieldPrice, fieldChangePercent, fieldDayHigh, fieldDayLow, fieldChange, fieldPreviousClose:
		return true
	}
	return false
}

func setFloat(t *model.IndexTick, num protowire.Number, v float64) {
	switch num {
	case fieldPrice:
		t.Price = v
	case fieldChangePercent:
		t.ChangePercent = v
	case fieldDayHigh:
		t.DayHigh = v
	case fieldDayLow:
		t.DayLow = v
	case fieldChange:
		t.Change = v
	case fieldPreviousClose:
		t.PreviousClose = v
	}
}
