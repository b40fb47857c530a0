package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rickgao/tickerboard/internal/model"
)

// chartResponse from GET /v8/finance/chart/{symbol}
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta       chartMeta `json:"meta"`
	Timestamp  []int64   `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []*float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

type chartMeta struct {
	Symbol               string          `json:"symbol"`
	RegularMarketPrice   *float64        `json:"regularMarketPrice"`
	RegularMarketTime    *int64          `json:"regularMarketTime"`
	RegularMarketDayHigh *float64        `json:"regularMarketDayHigh"`
	RegularMarketDayLow  *float64        `json:"regularMarketDayLow"`
	ChartPreviousClose   *float64        `json:"chartPreviousClose"`
	PreviousClose        *float64        `json:"previousClose"`
	TradingPeriods       *tradingPeriods `json:"tradingPeriods"`
}

type tradingPeriods struct {
	Pre     [][]tradingPeriod `json:"pre"`
	Regular [][]tradingPeriod `json:"regular"`
	Post    [][]tradingPeriod `json:"post"`
}

type tradingPeriod struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// first returns periods[0][0] if present.
func first(periods [][]tradingPeriod) (tradingPeriod, bool) {
	if len(periods) == 0 || len(periods[0]) == 0 {
		return tradingPeriod{}, false
	}
	return periods[0][0], true
}

// previousClose prefers the chart's own prior close.
func (m chartMeta) previousClose() float64 {
	if m.ChartPreviousClose != nil {
		return *m.ChartPreviousClose
	}
	if m.PreviousClose != nil {
		return *m.PreviousClose
	}
	return 0
}

// closes returns the first close series, or nil.
func (r chartResult) closes() []*float64 {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	return r.Indicators.Quote[0].Close
}

// lastInWindow scans backward for the latest non-null close whose timestamp
// is inside [p.Start, p.End).
func lastInWindow(ts []int64, closes []*float64, p tradingPeriod) (price float64, at int64, ok bool) {
	n := len(ts)
	if len(closes) < n {
		n = len(closes)
	}
	for i := n - 1; i >= 0; i-- {
		if closes[i] == nil {
			continue
		}
		if ts[i] >= p.Start && ts[i] < p.End {
			return *closes[i], ts[i], true
		}
	}
	return 0, 0, false
}

// extendedHours extracts the pre and post quotes from a chart result.
func (r chartResult) extendedHours(previousClose float64) model.ExtendedHours {
	if previousClose <= 0 {
		previousClose = r.Meta.previousClose()
	}

	var ext model.ExtendedHours
	if r.Meta.TradingPeriods == nil {
		return ext
	}

	closes := r.closes()
	if p, ok := first(r.Meta.TradingPeriods.Pre); ok {
		if price, at, ok := lastInWindow(r.Timestamp, closes, p); ok {
			ext.PreMarket = model.NewExtendedQuote(price, previousClose, at*1000)
		}
	}
	if p, ok := first(r.Meta.TradingPeriods.Post); ok {
		if price, at, ok := lastInWindow(r.Timestamp, closes, p); ok {
			ext.PostMarket = model.NewExtendedQuote(price, previousClose, at*1000)
		}
	}
	return ext
}

// chart fetches the intraday chart for symbol.
func (c *Client) chart(ctx context.Context, symbol string, prePost bool) (chartResult, error) {
	query := url.Values{}
	query.Set("interval", "1m")
	query.Set("range", "1d")
	query.Set("includePrePost", strconv.FormatBool(prePost))

	var resp chartResponse
	if err := c.get(ctx, c.chartURL, "/v8/finance/chart/"+url.PathEscape(symbol), query, &resp); err != nil {
		return chartResult{}, err
	}
	if resp.Chart.Error != nil {
		return chartResult{}, fmt.Errorf("%w: %s: %s", ErrNoData, resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return chartResult{}, ErrNoData
	}
	return resp.Chart.Result[0], nil
}

// GetExtendedHours returns the latest pre- and post-market prices for
// symbol. A session with no price in its window is omitted. Changes are
// measured against previousClose, or the provider's prior close when
// previousClose is zero.
func (c *Client) GetExtendedHours(ctx context.Context, symbol string, previousClose float64) (model.ExtendedHours, error) {
	key := "extended:" + symbol + ":" + strconv.FormatFloat(previousClose, 'f', -1, 64)
	return shared(ctx, c, key, func(ctx context.Context) (model.ExtendedHours, error) {
		res, err := c.chart(ctx, symbol, true)
		if err != nil {
			return model.ExtendedHours{}, fmt.Errorf("get extended hours %s: %w", symbol, err)
		}
		return res.extendedHours(previousClose), nil
	})
}

// GetIndexQuote returns a snapshot for an index or FX pair from chart
// metadata.
func (c *Client) GetIndexQuote(ctx context.Context, symbol string) (model.IndexQuote, error) {
	return shared(ctx, c, "index:"+symbol, func(ctx context.Context) (model.IndexQuote, error) {
		res, err := c.chart(ctx, symbol, false)
		if err != nil {
			return model.IndexQuote{}, fmt.Errorf("get index quote %s: %w", symbol, err)
		}

		m := res.Meta
		if m.RegularMarketPrice == nil {
			return model.IndexQuote{}, fmt.Errorf("get index quote %s: %w: missing %q", symbol, ErrIncompleteQuote, "regularMarketPrice")
		}

		q := model.IndexQuote{
			Symbol:        symbol,
			Price:         *m.RegularMarketPrice,
			PreviousClose: m.previousClose(),
			MarketHours:   model.HoursRegular,
		}
		if m.RegularMarketDayHigh != nil {
			q.DayHigh = *m.RegularMarketDayHigh
		}
		if m.RegularMarketDayLow != nil {
			q.DayLow = *m.RegularMarketDayLow
		}
		if m.RegularMarketTime != nil {
			q.Timestamp = *m.RegularMarketTime * 1000
		}
		q.Change, q.ChangePercent = model.ChangeFrom(q.Price, q.PreviousClose)
		return q, nil
	})
}
