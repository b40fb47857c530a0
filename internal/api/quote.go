package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rickgao/tickerboard/internal/model"
)

// quoteResponse from GET /quote. Pointer fields distinguish absent from zero.
type quoteResponse struct {
	Current       *float64 `json:"c"`
	High          *float64 `json:"h"`
	Low           *float64 `json:"l"`
	Open          *float64 `json:"o"`
	PreviousClose *float64 `json:"pc"`
	Time          *int64   `json:"t"`
}

// Quote is a validated snapshot quote.
type Quote struct {
	Current       float64
	High          float64
	Low           float64
	Open          float64
	PreviousClose float64
	Time          int64 // Unix seconds
}

// validate converts the wire shape to a Quote. Missing fields are errors.
func (r quoteResponse) validate() (Quote, error) {
	fields := []struct {
		name    string
		present bool
	}{
		{"c", r.Current != nil},
		{"h", r.High != nil},
		{"l", r.Low != nil},
		{"o", r.Open != nil},
		{"pc", r.PreviousClose != nil},
		{"t", r.Time != nil},
	}
	for _, f := range fields {
		if !f.present {
			return Quote{}, fmt.Errorf("%w: missing %q", ErrIncompleteQuote, f.name)
		}
	}

	q := Quote{
		Current:       *r.Current,
		High:          *r.High,
		Low:           *r.Low,
		Open:          *r.Open,
		PreviousClose: *r.PreviousClose,
		Time:          *r.Time,
	}
	// Unknown symbols come back as an all-zero object.
	if q.Current == 0 && q.PreviousClose == 0 && q.Time == 0 {
		return Quote{}, ErrNoData
	}
	return q, nil
}

// QuoteToPriceRecord maps a snapshot quote into a PriceRecord. Change is
// computed from the current price and previous close.
func QuoteToPriceRecord(symbol string, q Quote) model.PriceRecord {
	change, percent := model.ChangeFrom(q.Current, q.PreviousClose)
	return model.PriceRecord{
		Symbol:        symbol,
		Current:       q.Current,
		Open:          q.Open,
		High:          q.High,
		Low:           q.Low,
		Close:         q.PreviousClose,
		Change:        change,
		ChangePercent: percent,
		Timestamp:     q.Time * 1000,
	}
}

// GetQuote fetches a snapshot quote for symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (model.PriceRecord, error) {
	return shared(ctx, c, "quote:"+symbol, func(ctx context.Context) (model.PriceRecord, error) {
		query := url.Values{}
		query.Set("symbol", symbol)

		var resp quoteResponse
		if err := c.get(ctx, c.baseURL, "/quote", query, &resp); err != nil {
			return model.PriceRecord{}, fmt.Errorf("get quote %s: %w", symbol, err)
		}

		q, err := resp.validate()
		if err != nil {
			return model.PriceRecord{}, fmt.Errorf("get quote %s: %w", symbol, err)
		}
		return QuoteToPriceRecord(symbol, q), nil
	})
}
