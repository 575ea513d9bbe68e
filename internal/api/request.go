package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrMaxRetries wraps the last failure once retries are exhausted.
var ErrMaxRetries = errors.New("max retries exceeded")

// maxErrorMessage caps how much of a plain-text error body lands in Message.
const maxErrorMessage = 200

// APIError is a non-2xx response from the feed.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feed api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the status is worth another attempt.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// newAPIError builds an APIError, preferring the body's own message.
func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Message: http.StatusText(status), Body: body}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Error != "":
			e.Message = payload.Error
		case payload.Message != "":
			e.Message = payload.Message
		}
		return e
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) <= maxErrorMessage {
		e.Message = text
	}
	return e
}

// doRequest performs one round trip and returns the body of a 2xx response.
// 503 and 429 responses carrying Retry-After come back as *ConnectAfterError.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.signer != nil {
		if err := c.signer.Sign(req.Header, method, req.URL.Path); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}

	c.requests.Add(1)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 400 {
		return body, nil
	}

	apiErr := newAPIError(resp.StatusCode, body)
	if after, ok := RetryAfterFromResponse(resp, c.now()); ok {
		after.Cause = apiErr
		return nil, after
	}
	return nil, apiErr
}

// doWithRetry retries retryable API errors with jittered exponential
// backoff. A ConnectAfterError is returned at once since its caller owns
// the retry schedule.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			c.retries.Add(1)
			c.logger.Debug("retrying request", "path", path, "attempt", attempt, "backoff", delay)

			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				c.failures.Add(1)
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		body, err := c.doRequest(ctx, method, path, query)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !shouldRetry(err) {
			c.failures.Add(1)
			return nil, err
		}
	}

	c.failures.Add(1)
	return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
}

// backoff returns the delay before attempt n (n >= 1): base * 2^(n-1),
// scaled by a random factor in [0.5, 1.5].
func (c *Client) backoff(n int) time.Duration {
	d := c.retryBackoff << (n - 1)
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int64N(int64(d)+1))
}

func shouldRetry(err error) bool {
	var after *ConnectAfterError
	if errors.As(err, &after) {
		return false
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsRetryable()
}

// get performs a GET with retries and decodes the JSON body into result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doWithRetry(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
