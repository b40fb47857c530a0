package api

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rickgao/tickerboard/internal/model"
)

// Range is a supported chart range.
type Range string

const (
	Range1D Range = "1D"
	Range1W Range = "1W"
	Range1M Range = "1M"
	Range3M Range = "3M"
	Range6M Range = "6M"
	Range1Y Range = "1Y"
	Range5Y Range = "5Y"
)

const day = 24 * time.Hour

// rangeParams maps each range to a provider resolution and lookback window.
var rangeParams = map[Range]struct {
	resolution string
	lookback   time.Duration
}{
	Range1D: {"5", day},
	Range1W: {"15", 7 * day},
	Range1M: {"60", 30 * day},
	Range3M: {"D", 90 * day},
	Range6M: {"D", 180 * day},
	Range1Y: {"D", 365 * day},
	Range5Y: {"W", 5 * 365 * day},
}

// Ranges lists the supported ranges from shortest to longest.
func Ranges() []Range {
	return []Range{Range1D, Range1W, Range1M, Range3M, Range6M, Range1Y, Range5Y}
}

// Valid reports whether r is a supported range.
func (r Range) Valid() bool {
	_, ok := rangeParams[r]
	return ok
}

// Resolution returns the provider resolution for r. It panics for an
// unsupported range.
func (r Range) Resolution() string {
	p, ok := rangeParams[r]
	if !ok {
		panic(fmt.Sprintf("api: unsupported chart range %q", string(r)))
	}
	return p.resolution
}

// Lookback returns the window covered by r. It panics for an unsupported
// range.
func (r Range) Lookback() time.Duration {
	p, ok := rangeParams[r]
	if !ok {
		panic(fmt.Sprintf("api: unsupported chart range %q", string(r)))
	}
	return p.lookback
}

// candleResponse from GET /stock/candle
type candleResponse struct {
	Status string    `json:"s"`
	Time   []int64   `json:"t"`
	Open   []float64 `json:"o"`
	High   []float64 `json:"h"`
	Low    []float64 `json:"l"`
	Close  []float64 `json:"c"`
	Volume []float64 `json:"v"`
}

// toSeries validates array lengths and returns candles in strictly
// ascending time order.
func (r candleResponse) toSeries(symbol string, rng Range) (model.ChartSeries, error) {
	series := model.ChartSeries{Symbol: symbol, Range: string(rng)}
	if r.Status != "ok" {
		return series, nil
	}

	n := len(r.Time)
	if len(r.Open) != n || len(r.High) != n || len(r.Low) != n || len(r.Close) != n {
		return series, fmt.Errorf("%w: candle arrays have mismatched lengths", ErrMalformedResponse)
	}
	if r.Volume != nil && len(r.Volume) != n {
		return series, fmt.Errorf("%w: candle volume length %d, want %d", ErrMalformedResponse, len(r.Volume), n)
	}

	candles := make([]model.Candle, 0, n)
	for i := 0; i < n; i++ {
		c := model.Candle{
			Time:  r.Time[i],
			Open:  r.Open[i],
			High:  r.High[i],
			Low:   r.Low[i],
			Close: r.Close[i],
		}
		if r.Volume != nil {
			c.Volume = r.Volume[i]
		}
		candles = append(candles, c)
	}

	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Time < candles[j].Time
	})

	// Collapse duplicate timestamps, keeping the last bar received.
	out := candles[:0]
	for _, c := range candles {
		if len(out) > 0 && out[len(out)-1].Time == c.Time {
			out[len(out)-1] = c
			continue
		}
		out = append(out, c)
	}

	series.Candles = out
	return series, nil
}

// GetCandles fetches the candle series for symbol over rng. A provider
// status other than "ok" yields an empty series. An unsupported range
// panics.
func (c *Client) GetCandles(ctx context.Context, symbol string, rng Range) (model.ChartSeries, error) {
	resolution := rng.Resolution()
	lookback := rng.Lookback()

	key := "candles:" + symbol + ":" + string(rng)
	return shared(ctx, c, key, func(ctx context.Context) (model.ChartSeries, error) {
		to := c.now()
		from := to.Add(-lookback)

		query := url.Values{}
		query.Set("symbol", symbol)
		query.Set("resolution", resolution)
		query.Set("from", strconv.FormatInt(from.Unix(), 10))
		query.Set("to", strconv.FormatInt(to.Unix(), 10))

		var resp candleResponse
		if err := c.get(ctx, c.baseURL, "/stock/candle", query, &resp); err != nil {
			return model.ChartSeries{}, fmt.Errorf("get candles %s %s: %w", symbol, rng, err)
		}

		series, err := resp.toSeries(symbol, rng)
		if err != nil {
			return model.ChartSeries{}, fmt.Errorf("get candles %s %s: %w", symbol, rng, err)
		}
		return series, nil
	})
}
