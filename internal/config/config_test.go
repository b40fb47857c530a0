package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: desk-1
api:
  token: abc123
  timeout: 5s
stream:
  trade_url: wss://feed.example.com
  max_attempts: 3
session:
  holidays: true
watchlist:
  symbols: [AAPL, TSLA]
  indices: ["^GSPC"]
`
	cfg, err := Load(writeTempFile(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "desk-1" {
		t.Errorf("Instance.ID = %q, want desk-1", cfg.Instance.ID)
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Errorf("API.Timeout = %v, want 5s", cfg.API.Timeout)
	}
	if cfg.Stream.TradeURL != "wss://feed.example.com" || cfg.Stream.MaxAttempts != 3 {
		t.Errorf("Stream = %+v", cfg.Stream)
	}
	if !cfg.Session.Holidays {
		t.Error("Session.Holidays = false, want true")
	}
	if len(cfg.Watchlist.Symbols) != 2 || cfg.Watchlist.Indices[0] != "^GSPC" {
		t.Errorf("Watchlist = %+v", cfg.Watchlist)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_FEED_TOKEN", "secret123")
	t.Setenv("TEST_DB_PASSWORD", "p@ss")

	yaml := `
api:
  token: ${TEST_FEED_TOKEN}
database:
  enabled: true
  history:
    host: localhost
    name: history
    user: board
    password: ${TEST_DB_PASSWORD}
`
	cfg, err := Load(writeTempFile(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.Token != "secret123" {
		t.Errorf("API.Token = %q, want secret123", cfg.API.Token)
	}
	if cfg.Database.History.Password != "p@ss" {
		t.Errorf("Database.History.Password = %q, want p@ss", cfg.Database.History.Password)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
	if _, err := Load(writeTempFile(t, "api: [unclosed")); err == nil {
		t.Error("Load of malformed yaml succeeded")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := LoadWithDefaults(writeTempFile(t, "api:\n  token: abc\n"))
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	checks := []struct {
		name      string
		got, want any
	}{
		{"instance.id", cfg.Instance.ID, DefaultInstanceID},
		{"api.rest_url", cfg.API.RestURL, DefaultRestURL},
		{"api.timeout", cfg.API.Timeout, DefaultAPITimeout},
		{"stream.index_url", cfg.Stream.IndexURL, DefaultIndexURL},
		{"stream.reconnect_base_delay", cfg.Stream.ReconnectBaseDelay, DefaultReconnectBaseDelay},
		{"stream.max_attempts", cfg.Stream.MaxAttempts, DefaultMaxAttempts},
		{"reconciler.poll_interval", cfg.Reconciler.PollInterval, DefaultPollInterval},
		{"reconciler.index_poll_interval", cfg.Reconciler.IndexPollInterval, DefaultIndexPollInterval},
		{"settings.sqlite_path", cfg.Settings.SQLitePath, DefaultSQLitePath},
		{"database.history.port", cfg.Database.History.Port, DefaultDBPort},
		{"writer.batch_size", cfg.Writer.BatchSize, DefaultBatchSize},
		{"server.port", cfg.Server.Port, DefaultServerPort},
		{"logging.level", cfg.Logging.Level, DefaultLogLevel},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want default %v", c.name, c.got, c.want)
		}
	}
	if len(cfg.Watchlist.Symbols) != len(DefaultSymbols) || len(cfg.Watchlist.Indices) != len(DefaultIndices) {
		t.Errorf("Watchlist = %+v, want default seed", cfg.Watchlist)
	}
}

func TestApplyDefaults_KeepsExplicitWatchlist(t *testing.T) {
	cfg := BoardConfig{Watchlist: WatchlistConfig{Indices: []string{"EURUSD=X"}}}
	cfg.ApplyDefaults()
	if len(cfg.Watchlist.Symbols) != 0 || len(cfg.Watchlist.Indices) != 1 {
		t.Errorf("Watchlist = %+v, want only EURUSD=X", cfg.Watchlist)
	}
}

func TestValidate(t *testing.T) {
	valid := func() BoardConfig {
		cfg := BoardConfig{API: APIConfig{Token: "abc"}}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*BoardConfig)
		wantErr string
	}{
		{name: "valid config", mutate: func(*BoardConfig) {}},
		{
			name:    "missing token",
			mutate:  func(c *BoardConfig) { c.API.Token = "" },
			wantErr: "api.token is required",
		},
		{
			name:    "stream url scheme",
			mutate:  func(c *BoardConfig) { c.Stream.TradeURL = "https://ws.finnhub.io" },
			wantErr: `stream.trade_url must be a ws/wss URL, got "https://ws.finnhub.io"`,
		},
		{
			name:    "max delay below base",
			mutate:  func(c *BoardConfig) { c.Stream.ReconnectMaxDelay = 500 * time.Millisecond },
			wantErr: "stream.reconnect_max_delay (500ms) cannot be less than reconnect_base_delay (1s)",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *BoardConfig) { c.Stream.MaxAttempts = -1 },
			wantErr: "stream.max_attempts must be >= 1",
		},
		{
			name:    "empty watchlist entry",
			mutate:  func(c *BoardConfig) { c.Watchlist.Symbols = []string{"AAPL", " "} },
			wantErr: "watchlist entries must not be empty",
		},
		{
			name:    "database enabled without host",
			mutate:  func(c *BoardConfig) { c.Database.Enabled = true },
			wantErr: "database.history.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *BoardConfig) {
				c.Database.Enabled = true
				c.Database.History = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.history.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name: "database disabled ignores history",
			mutate: func(c *BoardConfig) {
				c.Database.History = DBConfig{}
			},
		},
		{
			name:    "bad port",
			mutate:  func(c *BoardConfig) { c.Server.Port = 70000 },
			wantErr: "server.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "bad log level",
			mutate:  func(c *BoardConfig) { c.Logging.Level = "verbose" },
			wantErr: `logging.level must be debug, info, warn or error, got "verbose"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error %q, got nil", tt.wantErr)
			}
			if err.Error() != tt.wantErr {
				t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	if _, err := LoadAndValidate(writeTempFile(t, "instance:\n  id: x\n")); err == nil ||
		!strings.HasPrefix(err.Error(), "validate config: ") {
		t.Errorf("err = %v, want validation error", err)
	}
	cfg, err := LoadAndValidate(writeTempFile(t, "api:\n  token: abc\n"))
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
	if cfg.Server.Port != DefaultServerPort {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, DefaultServerPort)
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
