package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxRetryAfterSeconds is the largest delta that fits in a time.Duration.
const maxRetryAfterSeconds = math.MaxInt64 / int64(time.Second)

// ConnectAfterError is the retry-after failure: the feed refused service
// and named the earliest time a new attempt may be made.
type ConnectAfterError struct {
	RetryAt time.Time
	Cause   error
}

func (e *ConnectAfterError) Error() string {
	msg := "connect after " + e.RetryAt.UTC().Format(time.RFC3339)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConnectAfterError) Unwrap() error {
	return e.Cause
}

// Delay returns how long to wait from now; zero when RetryAt has passed.
func (e *ConnectAfterError) Delay(now time.Time) time.Duration {
	d := e.RetryAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ParseRetryAfter parses a Retry-After header value, either delta seconds
// or an HTTP date, into an absolute time.
func ParseRetryAfter(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty Retry-After")
	}

	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs < 0 {
			return time.Time{}, fmt.Errorf("negative Retry-After %q", value)
		}
		secs = min(secs, maxRetryAfterSeconds)
		return now.Add(time.Duration(secs) * time.Second), nil
	}

	t, err := http.ParseTime(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse Retry-After %q: %w", value, err)
	}
	return t, nil
}

// RetryAfterFromResponse reports a ConnectAfterError when resp is a 503 or
// 429 with a parseable Retry-After header.
func RetryAfterFromResponse(resp *http.Response, now time.Time) (*ConnectAfterError, bool) {
	if resp == nil {
		return nil, false
	}
	if resp.StatusCode != http.StatusServiceUnavailable && resp.StatusCode != http.StatusTooManyRequests {
		return nil, false
	}

	retryAt, err := ParseRetryAfter(resp.Header.Get("Retry-After"), now)
	if err != nil {
		return nil, false
	}
	return &ConnectAfterError{RetryAt: retryAt}, true
}
