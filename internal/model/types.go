package model

// -----------------------------------------------------------------------------
// Equities
// -----------------------------------------------------------------------------

// PriceRecord is the best-known price of one equity.
type PriceRecord struct {
	Symbol        string  `json:"symbol"`
	Current       float64 `json:"current"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"` // Previous regular-session close
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        float64 `json:"volume"`
	Timestamp     int64   `json:"timestamp"` // Time of Current (ms)

	// Regular-session values, set only while an extended-hours quote
	// replaces Current/Change/ChangePercent.
	RegularMarketPrice         *float64 `json:"regular_market_price,omitempty"`
	RegularMarketChange        *float64 `json:"regular_market_change,omitempty"`
	RegularMarketChangePercent *float64 `json:"regular_market_change_percent,omitempty"`

	PreMarket  *ExtendedQuote `json:"pre_market,omitempty"`
	PostMarket *ExtendedQuote `json:"post_market,omitempty"`
}

// ExtendedQuote is a pre- or post-market price relative to the previous
// regular-session close.
type ExtendedQuote struct {
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Timestamp     int64   `json:"timestamp"` // ms
}

// ExtendedHours holds whichever extended sessions had a price.
type ExtendedHours struct {
	PreMarket  *ExtendedQuote `json:"pre_market,omitempty"`
	PostMarket *ExtendedQuote `json:"post_market,omitempty"`
}

// ExtendedSide selects which extended quote, if any, replaces the current
// price.
type ExtendedSide int

const (
	SideNone ExtendedSide = iota
	SidePre
	SidePost
)

// Trade is a single print from the equity stream.
type Trade struct {
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp int64 // ms
}

// Candle is one OHLCV bar.
type Candle struct {
	Time   int64   `json:"time"` // Unix seconds
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// ChartSeries is a time-ordered candle series.
type ChartSeries struct {
	Symbol  string   `json:"symbol"`
	Range   string   `json:"range"`
	Candles []Candle `json:"candles"`
}

// -----------------------------------------------------------------------------
// Indices and FX
// -----------------------------------------------------------------------------

// MarketHours is the session an index tick was produced in.
type MarketHours int32

const (
	HoursPre MarketHours = iota
	HoursRegular
	HoursPost
	HoursExtended
)

func (h MarketHours) String() string {
	switch h {
	case HoursPre:
		return "pre"
	case HoursRegular:
		return "regular"
	case HoursPost:
		return "post"
	case HoursExtended:
		return "extended"
	default:
		return "unknown"
	}
}

// IndexQuote is the best-known value of one index or FX pair.
type IndexQuote struct {
	Symbol        string      `json:"symbol"`
	Price         float64     `json:"price"`
	Change        float64     `json:"change"`
	ChangePercent float64     `json:"change_percent"`
	PreviousClose float64     `json:"previous_close"`
	DayHigh       float64     `json:"day_high"`
	DayLow        float64     `json:"day_low"`
	Timestamp     int64       `json:"timestamp"` // ms
	MarketHours   MarketHours `json:"market_hours"`
}

// IndexTick is a decoded record from the index stream. Zero fields were
// absent on the wire.
type IndexTick struct {
	Symbol        string
	Price         float64
	Change        float64
	ChangePercent float64
	PreviousClose float64
	DayHigh       float64
	DayLow        float64
	DayVolume     int64
	Timestamp     int64 // ms
	MarketHours   MarketHours
}
