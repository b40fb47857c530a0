package connection

import (
	"encoding/base64"
	"errors"
	"math"
	"reflect"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/rickgao/tickerboard/internal/model"
)

func TestTradeProtocol_Decode(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    []model.Trade
		wantErr bool
	}{
		{
			name:  "trades",
			frame: `{"type":"trade","data":[{"s":"AAPL","p":190.25,"t":1700000000000,"v":100},{"s":"","p":1,"t":1,"v":1}]}`,
			want:  []model.Trade{{Symbol: "AAPL", Price: 190.25, Volume: 100, Timestamp: 1700000000000}},
		},
		{name: "ping", frame: `{"type":"ping"}`},
		{name: "null data", frame: `{"type":"trade","data":null}`, want: []model.Trade{}},
		{name: "unknown type", frame: `{"type":"news","data":[]}`},
		{name: "error frame", frame: `{"type":"error","msg":"Invalid symbol"}`, wantErr: true},
		{name: "malformed", frame: `{"type":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TradeProtocol{}.Decode([]byte(tt.frame))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) || (len(got) > 0 && !reflect.DeepEqual(got, tt.want)) {
				t.Errorf("Decode() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTradeProtocol_Frames(t *testing.T) {
	got := TradeProtocol{}.SubscribeFrames([]string{"AAPL", "MSFT"})
	want := []string{`{"type":"subscribe","symbol":"AAPL"}`, `{"type":"subscribe","symbol":"MSFT"}`}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Errorf("frame %d = %s, want %s", i, got[i], want[i])
		}
	}

	un := TradeProtocol{}.UnsubscribeFrames([]string{"AAPL"})
	if len(un) != 1 || string(un[0]) != `{"type":"unsubscribe","symbol":"AAPL"}` {
		t.Errorf("unsubscribe = %q", un)
	}
}

func encodePricing(id string, price float32, timeMs int64, hours int32) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendString(b, id)
	b = protowire.AppendTag(b, fieldPrice, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(price))
	b = protowire.AppendTag(b, fieldTime, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(timeMs))
	// A field this decoder does not know.
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, "USD")
	b = protowire.AppendTag(b, fieldMarketHours, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(hours))
	b = protowire.AppendTag(b, fieldChangePercent, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(1.5))
	b = protowire.AppendTag(b, fieldDayVolume, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(12345))
	b = protowire.AppendTag(b, fieldDayHigh, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(5100))
	b = protowire.AppendTag(b, fieldDayLow, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(4900))
	b = protowire.AppendTag(b, fieldChange, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(75))
	b = protowire.AppendTag(b, fieldPreviousClose, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(5000))
	return b
}

func TestIndexProtocol_Decode(t *testing.T) {
	raw := encodePricing("^GSPC", 5075, 1721073600000, 1)
	b64 := base64.StdEncoding.EncodeToString(raw)

	want := model.IndexTick{
		Symbol:        "^GSPC",
		Price:         5075,
		Change:        75,
		ChangePercent: 1.5,
		PreviousClose: 5000,
		DayHigh:       5100,
		DayLow:        4900,
		DayVolume:     12345,
		Timestamp:     1721073600000,
		MarketHours:   model.HoursRegular,
	}

	for name, frame := range map[string]string{
		"bare":     b64,
		"envelope": `{"type":"pricing","message":"` + b64 + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			got, err := IndexProtocol{}.Decode([]byte(frame))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != 1 || got[0] != want {
				t.Errorf("Decode() = %+v, want %+v", got, want)
			}
		})
	}
}

func TestIndexProtocol_DecodeErrors(t *testing.T) {
	var noID []byte
	noID = protowire.AppendTag(noID, fieldPrice, protowire.Fixed32Type)
	noID = protowire.AppendFixed32(noID, math.Float32bits(1))

	t.Run("missing id", func(t *testing.T) {
		_, err := IndexProtocol{}.Decode([]byte(base64.StdEncoding.EncodeToString(noID)))
		if !errors.Is(err, errMissingID) {
			t.Errorf("err = %v, want errMissingID", err)
		}
	})

	t.Run("not base64", func(t *testing.T) {
		if _, err := (IndexProtocol{}).Decode([]byte("!!!")); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("truncated", func(t *testing.T) {
		raw := encodePricing("EURUSD=X", 1.08, 1, 3)
		frame := base64.StdEncoding.EncodeToString(raw[:len(raw)-2])
		if _, err := (IndexProtocol{}).Decode([]byte(frame)); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("empty envelope", func(t *testing.T) {
		got, err := IndexProtocol{}.Decode([]byte(`{"type":"heartbeat"}`))
		if err != nil || len(got) != 0 {
			t.Errorf("Decode() = %v, %v; want nothing", got, err)
		}
	})
}

func TestIndexProtocol_Frames(t *testing.T) {
	got := IndexProtocol{}.SubscribeFrames([]string{"^GSPC", "^DJI"})
	if len(got) != 1 || string(got[0]) != `{"subscribe":["^GSPC","^DJI"]}` {
		t.Errorf("subscribe = %q", got)
	}
	un := IndexProtocol{}.UnsubscribeFrames([]string{"^DJI"})
	if len(un) != 1 || string(un[0]) != `{"unsubscribe":["^DJI"]}` {
		t.Errorf("unsubscribe = %q", un)
	}
	if f := (IndexProtocol{}).SubscribeFrames(nil); f != nil {
		t.Errorf("empty subscribe = %q, want nil", f)
	}
}
