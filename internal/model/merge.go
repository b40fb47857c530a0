package model

import (
	"time"

	"github.com/rickgao/tickerboard/internal/session"
)

// ChangeFrom returns the absolute and percent change of current against a
// reference close. A non-positive close yields a zero percent.
func ChangeFrom(current, close float64) (change, percent float64) {
	change = current - close
	if close > 0 {
		percent = change / close * 100
	}
	return change, percent
}

// NewExtendedQuote builds an extended-session quote against the previous
// regular close.
func NewExtendedQuote(price, previousClose float64, ts int64) *ExtendedQuote {
	change, percent := ChangeFrom(price, previousClose)
	return &ExtendedQuote{
		Price:         price,
		Change:        change,
		ChangePercent: percent,
		Timestamp:     ts,
	}
}

// Regular returns r with any extended-hours replacement undone: Current,
// Change and ChangePercent hold regular-session values and the
// RegularMarket fields are cleared.
func (r PriceRecord) Regular() PriceRecord {
	if r.RegularMarketPrice == nil {
		r.RegularMarketChange = nil
		r.RegularMarketChangePercent = nil
		return r
	}

	r.Current = *r.RegularMarketPrice
	if r.RegularMarketChange != nil && r.RegularMarketChangePercent != nil {
		r.Change = *r.RegularMarketChange
		r.ChangePercent = *r.RegularMarketChangePercent
	} else {
		r.Change, r.ChangePercent = ChangeFrom(r.Current, r.Close)
	}
	r.RegularMarketPrice = nil
	r.RegularMarketChange = nil
	r.RegularMarketChangePercent = nil
	return r
}

// MergeQuote folds a REST snapshot into the current record. The snapshot is
// authoritative for open and close. The current price is only replaced when
// the snapshot is not older than it, and within one trading day the range and
// volume never shrink.
func MergeQuote(cur, snap PriceRecord) PriceRecord {
	if cur.Symbol != snap.Symbol {
		return snap.Regular()
	}

	base := cur.Regular()
	out := snap.Regular()
	out.PreMarket = base.PreMarket
	out.PostMarket = base.PostMarket

	if base.Timestamp > snap.Timestamp {
		out.Current = base.Current
		out.Timestamp = base.Timestamp
	}

	if session.SameTradingDay(msTime(base.Timestamp), msTime(snap.Timestamp)) {
		out.High, out.Low = widen(out.High, out.Low, base.High)
		out.High, out.Low = widen(out.High, out.Low, base.Low)
		if base.Volume > out.Volume {
			out.Volume = base.Volume
		}
	}

	out.High, out.Low = widen(out.High, out.Low, out.Current)
	out.Change, out.ChangePercent = ChangeFrom(out.Current, out.Close)
	return out
}

// ApplyTrade advances the record with a streamed trade. Trades older than the
// current price, for another symbol, or without a price are ignored.
func ApplyTrade(cur PriceRecord, tr Trade) (PriceRecord, bool) {
	if tr.Symbol != cur.Symbol || tr.Price <= 0 || tr.Timestamp < cur.Timestamp {
		return cur, false
	}

	out := cur.Regular()
	out.Current = tr.Price
	out.Timestamp = tr.Timestamp
	out.Volume += tr.Volume
	out.High, out.Low = widen(out.High, out.Low, tr.Price)
	out.Change, out.ChangePercent = ChangeFrom(out.Current, out.Close)
	return out, true
}

// MergeExtendedHours attaches extended-session quotes to rec. When side
// selects a present quote, it replaces Current, Change and ChangePercent and
// the regular values move to the RegularMarket fields. Applying the same
// payload twice yields the same record.
func MergeExtendedHours(rec PriceRecord, ext ExtendedHours, side ExtendedSide) PriceRecord {
	out := rec.Regular()
	out.PreMarket = cloneQuote(ext.PreMarket)
	out.PostMarket = cloneQuote(ext.PostMarket)

	var q *ExtendedQuote
	switch side {
	case SidePre:
		q = out.PreMarket
	case SidePost:
		q = out.PostMarket
	}
	if q == nil {
		return out
	}

	price, change, percent := out.Current, out.Change, out.ChangePercent
	out.RegularMarketPrice = &price
	out.RegularMarketChange = &change
	out.RegularMarketChangePercent = &percent

	out.Current = q.Price
	out.Change = q.Change
	out.ChangePercent = q.ChangePercent
	return out
}

// Extended returns the extended quotes currently attached to r.
func (r PriceRecord) Extended() ExtendedHours {
	return ExtendedHours{
		PreMarket:  cloneQuote(r.PreMarket),
		PostMarket: cloneQuote(r.PostMarket),
	}
}

// MergeIndexQuote folds a REST index snapshot into the current quote using
// the same timestamp and range rules as MergeQuote.
func MergeIndexQuote(cur, snap IndexQuote) IndexQuote {
	if cur.Symbol != snap.Symbol {
		return snap
	}

	out := snap
	if cur.Timestamp > snap.Timestamp {
		out.Price = cur.Price
		out.Timestamp = cur.Timestamp
		out.MarketHours = cur.MarketHours
	}
	if out.PreviousClose == 0 {
		out.PreviousClose = cur.PreviousClose
	}

	if session.SameTradingDay(msTime(cur.Timestamp), msTime(snap.Timestamp)) {
		out.DayHigh, out.DayLow = widen(out.DayHigh, out.DayLow, cur.DayHigh)
		out.DayHigh, out.DayLow = widen(out.DayHigh, out.DayLow, cur.DayLow)
	}

	out.DayHigh, out.DayLow = widen(out.DayHigh, out.DayLow, out.Price)
	out.Change, out.ChangePercent = ChangeFrom(out.Price, out.PreviousClose)
	return out
}

// ApplyIndexTick advances an index quote with a streamed tick. Change is
// measured against the previous close and the day range only widens.
func ApplyIndexTick(cur IndexQuote, tick IndexTick) (IndexQuote, bool) {
	if tick.Symbol != cur.Symbol || tick.Price <= 0 {
		return cur, false
	}
	if tick.Timestamp != 0 && tick.Timestamp < cur.Timestamp {
		return cur, false
	}

	out := cur
	out.Price = tick.Price
	out.MarketHours = tick.MarketHours
	if tick.Timestamp != 0 {
		out.Timestamp = tick.Timestamp
	}
	if out.PreviousClose == 0 && tick.PreviousClose > 0 {
		out.PreviousClose = tick.PreviousClose
	}

	out.DayHigh, out.DayLow = widen(out.DayHigh, out.DayLow, tick.Price)

	if out.PreviousClose > 0 {
		out.Change, out.ChangePercent = ChangeFrom(out.Price, out.PreviousClose)
	} else {
		out.Change, out.ChangePercent = tick.Change, tick.ChangePercent
	}
	return out, true
}

// widen extends [low, high] to include p. Zero bounds are treated as unset.
func widen(high, low, p float64) (float64, float64) {
	if p <= 0 {
		return high, low
	}
	if high == 0 || p > high {
		high = p
	}
	if low == 0 || p < low {
		low = p
	}
	return high, low
}

func cloneQuote(q *ExtendedQuote) *ExtendedQuote {
	if q == nil {
		return nil
	}
	c := *q
	return &c
}

func msTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
