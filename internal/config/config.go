package config

import "time"

// BoardConfig is the root configuration for a tickerboard instance.
type BoardConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	API        APIConfig        `yaml:"api"`
	Stream     StreamConfig     `yaml:"stream"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Session    SessionConfig    `yaml:"session"`
	Watchlist  WatchlistConfig  `yaml:"watchlist"`
	Settings   SettingsConfig   `yaml:"settings"`
	Database   DatabaseConfig   `yaml:"database"`
	Writer     WriterConfig     `yaml:"writer"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// InstanceConfig identifies this process in logs.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds the REST quote provider settings.
type APIConfig struct {
	RestURL      string        `yaml:"rest_url"`
	ChartURL     string        `yaml:"chart_url"`
	Token        string        `yaml:"token"` // Also used to authenticate the trade stream
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// StreamConfig holds settings shared by the trade and index transports.
type StreamConfig struct {
	TradeURL           string        `yaml:"trade_url"`
	IndexURL           string        `yaml:"index_url"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	MaxAttempts        int           `yaml:"max_attempts"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// ReconcilerConfig holds polling cadences.
type ReconcilerConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	IndexPollInterval time.Duration `yaml:"index_poll_interval"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"` // How often views are sampled for history
}

// SessionConfig controls market session classification.
type SessionConfig struct {
	Holidays bool `yaml:"holidays"` // Treat NYSE holidays as closed
}

// WatchlistConfig seeds the watchlist on first start.
type WatchlistConfig struct {
	Symbols           []string      `yaml:"symbols"`
	Indices           []string      `yaml:"indices"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// SettingsConfig locates the local settings database.
type SettingsConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// DatabaseConfig holds the optional price history database.
type DatabaseConfig struct {
	Enabled bool     `yaml:"enabled"`
	History DBConfig `yaml:"history"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WriterConfig holds history writer batching.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// ServerConfig holds the HTTP listener.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
