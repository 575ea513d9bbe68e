package api

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rickgao/coin-tracker/internal/auth"
	"github.com/rickgao/coin-tracker/internal/version"
)

// Client talks to the feed's REST endpoints. Requests are signed when a
// signer is configured and retried on transient server errors.
type Client struct {
	baseURL    string
	userAgent  string
	signer     auth.Signer
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	maxRetries   int
	retryBackoff time.Duration

	requests atomic.Int64
	retries  atomic.Int64
	failures atomic.Int64
}

// ClientStats counts REST activity.
type ClientStats struct {
	Requests int64 // HTTP round trips, including retries
	Retries  int64
	Failures int64 // Calls that returned an error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient returns a client for the API rooted at baseURL
// (e.g. http://localhost:8090/api).
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      baseURL,
		userAgent:    version.UserAgent(),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
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

// Stats returns request counters.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Requests: c.requests.Load(),
		Retries:  c.retries.Load(),
		Failures: c.failures.Load(),
	}
}

// WithTimeout bounds each HTTP round trip.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRetries sets how many times a transient failure is retried and the
// initial backoff, which doubles per attempt.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithSigner signs every request. A nil signer leaves requests unsigned.
func WithSigner(s auth.Signer) ClientOption {
	return func(c *Client) { c.signer = s }
}

func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}
