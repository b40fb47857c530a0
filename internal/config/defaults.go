package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID         = "tickerboard"
	DefaultRestURL            = "https://finnhub.io/api/v1"
	DefaultChartURL           = "https://query1.finance.yahoo.com"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultRetryBackoff       = 1 * time.Second
	DefaultTradeURL           = "wss://ws.finnhub.io"
	DefaultIndexURL           = "wss://streamer.finance.yahoo.com"
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultMaxAttempts        = 5
	DefaultDialTimeout        = 10 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultPingTimeout        = 90 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultStreamBufferSize   = 1000
	DefaultPollInterval       = 15 * time.Second
	DefaultIndexPollInterval  = 60 * time.Second
	DefaultSnapshotInterval   = 1 * time.Minute
	DefaultReconcileInterval  = 1 * time.Minute
	DefaultSQLitePath         = "data/settings.db"
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 5 * time.Second
	DefaultWriterBufferSize   = 1024
	DefaultServerPort         = 8080
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

// Seed watchlist used when none is configured.
var (
	DefaultSymbols = []string{"AAPL", "MSFT", "NVDA"}
	DefaultIndices = []string{"^GSPC", "^DJI", "^IXIC"}
)

// ApplyDefaults fills every unset optional field.
func (c *BoardConfig) ApplyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// API defaults
	setString(&c.API.RestURL, DefaultRestURL)
	setString(&c.API.ChartURL, DefaultChartURL)
	setDuration(&c.API.Timeout, DefaultAPITimeout)
	setInt(&c.API.MaxRetries, DefaultMaxRetries)
	setDuration(&c.API.RetryBackoff, DefaultRetryBackoff)

	// Stream defaults
	setString(&c.Stream.TradeURL, DefaultTradeURL)
	setString(&c.Stream.IndexURL, DefaultIndexURL)
	setDuration(&c.Stream.ReconnectBaseDelay, DefaultReconnectBaseDelay)
	setDuration(&c.Stream.ReconnectMaxDelay, DefaultReconnectMaxDelay)
	setInt(&c.Stream.MaxAttempts, DefaultMaxAttempts)
	setDuration(&c.Stream.DialTimeout, DefaultDialTimeout)
	setDuration(&c.Stream.PingInterval, DefaultPingInterval)
	setDuration(&c.Stream.PingTimeout, DefaultPingTimeout)
	setDuration(&c.Stream.WriteTimeout, DefaultWriteTimeout)
	setInt(&c.Stream.BufferSize, DefaultStreamBufferSize)

	// Reconciler defaults
	setDuration(&c.Reconciler.PollInterval, DefaultPollInterval)
	setDuration(&c.Reconciler.IndexPollInterval, DefaultIndexPollInterval)
	setDuration(&c.Reconciler.SnapshotInterval, DefaultSnapshotInterval)

	// Watchlist defaults
	if len(c.Watchlist.Symbols) == 0 && len(c.Watchlist.Indices) == 0 {
		c.Watchlist.Symbols = append([]string(nil), DefaultSymbols...)
		c.Watchlist.Indices = append([]string(nil), DefaultIndices...)
	}
	setDuration(&c.Watchlist.ReconcileInterval, DefaultReconcileInterval)

	setString(&c.Settings.SQLitePath, DefaultSQLitePath)

	// History database and writer defaults
	applyDBDefaults(&c.Database.History)
	setInt(&c.Writer.BatchSize, DefaultBatchSize)
	setDuration(&c.Writer.FlushInterval, DefaultFlushInterval)
	setInt(&c.Writer.BufferSize, DefaultWriterBufferSize)

	setInt(&c.Server.Port, DefaultServerPort)
	setString(&c.Logging.Level, DefaultLogLevel)
	setString(&c.Logging.Format, DefaultLogFormat)
}

func applyDBDefaults(db *DBConfig) {
	setInt(&db.Port, DefaultDBPort)
	setString(&db.SSLMode, DefaultDBSSLMode)
	setInt(&db.MaxConns, DefaultMaxConns)
	setInt(&db.MinConns, DefaultMinConns)
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}
