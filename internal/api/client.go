package api

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default upstream endpoints.
const (
	DefaultBaseURL  = "https://finnhub.io/api/v1"
	DefaultChartURL = "https://query1.finance.yahoo.com"
)

// Client fetches quotes, candles and extended-hours prices over REST.
type Client struct {
	baseURL    string
	chartURL   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	maxRetries   int
	retryBackoff time.Duration

	flight singleflight.Group
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST client. apiKey is sent only to baseURL.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  baseURL,
		chartURL: DefaultChartURL,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		now:          time.Now,
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithChartURL sets the chart endpoint host used for extended-hours and
// index quotes.
func WithChartURL(u string) ClientOption {
	return func(c *Client) {
		c.chartURL = u
	}
}

// WithClock overrides the clock used to compute candle lookback windows.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}
