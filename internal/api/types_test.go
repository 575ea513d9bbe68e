package api

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/coin-tracker/internal/model"
)

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		value   string
		want    time.Time
		wantErr bool
	}{
		{"seconds", "30", now.Add(30 * time.Second), false},
		{"zero seconds", "0", now, false},
		{"padded", " 5 ", now.Add(5 * time.Second), false},
		{"http date", "Fri, 01 Mar 2024 12:10:00 GMT", now.Add(10 * time.Minute), false},
		{"empty", "", time.Time{}, true},
		{"negative", "-5", time.Time{}, true},
		{"huge seconds clamp", "10000000000", now.Add(time.Duration(maxRetryAfterSeconds) * time.Second), false},
		{"max int64 seconds", "9223372036854775807", now.Add(time.Duration(maxRetryAfterSeconds) * time.Second), false},
		{"garbage", "soon", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRetryAfter(tt.value, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRetryAfter(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
			if !tt.wantErr && got.Before(now) {
				t.Errorf("ParseRetryAfter(%q) = %v, before now", tt.value, got)
			}
		})
	}
}

func TestRetryAfterFromResponse(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		status int
		header string
		wantOK bool
	}{
		{"503 with header", http.StatusServiceUnavailable, "10", true},
		{"429 with header", http.StatusTooManyRequests, "10", true},
		{"503 without header", http.StatusServiceUnavailable, "", false},
		{"500 with header", http.StatusInternalServerError, "10", false},
		{"503 bad header", http.StatusServiceUnavailable, "later", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}
			after, ok := RetryAfterFromResponse(resp, now)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !after.RetryAt.Equal(now.Add(10*time.Second)) {
				t.Errorf("RetryAt = %v", after.RetryAt)
			}
		})
	}

	if _, ok := RetryAfterFromResponse(nil, now); ok {
		t.Error("nil response should not be a retry-after failure")
	}
}

func TestConnectAfterError(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cause := errors.New("handshake rejected")
	err := &ConnectAfterError{RetryAt: now.Add(time.Minute), Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("ConnectAfterError should unwrap to its cause")
	}
	if got := err.Error(); got != "connect after 2024-03-01T12:01:00Z: handshake rejected" {
		t.Errorf("Error() = %q", got)
	}
	if got := err.Delay(now); got != time.Minute {
		t.Errorf("Delay = %v, want 1m", got)
	}
	if got := err.Delay(now.Add(time.Hour)); got != 0 {
		t.Errorf("Delay in the past = %v, want 0", got)
	}
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		wantType string
		wantErr  bool
	}{
		{"connected", `{"type":"connected"}`, FrameConnected, false},
		{"coin update", `{"type":"coin_update","coin":{"code":"BTC","name":"Bitcoin","price":"1.5"}}`, FrameCoinUpdate, false},
		{"connect after", `{"type":"connect_after","retry_at":"2024-03-01T12:00:00Z"}`, FrameConnectAfter, false},
		{"unknown type passes through", `{"type":"heartbeat"}`, "heartbeat", false},
		{"coin update without coin", `{"type":"coin_update"}`, "", true},
		{"coin update missing code", `{"type":"coin_update","coin":{"price":1}}`, "", true},
		{"connect after bad time", `{"type":"connect_after","retry_at":"tomorrow"}`, "", true},
		{"invalid json", `{`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFrame error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && f.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", f.Type, tt.wantType)
			}
		})
	}
}

func TestCoin_Observation(t *testing.T) {
	at := time.Unix(1700000000, 0)
	coin := Coin{Code: " btc ", Name: "Bitcoin", ImageURL: "u", Price: decimal.RequireFromString("10.5")}

	obs := coin.Observation(model.SourceStream, at)
	if obs.Symbol != "BTC" {
		t.Errorf("Symbol = %q, want BTC", obs.Symbol)
	}
	if obs.Name != "Bitcoin" || obs.IconURL != "u" || obs.Source != model.SourceStream {
		t.Errorf("obs = %+v", obs)
	}
	if !obs.Price.Equal(coin.Price) || !obs.ReceivedAt.Equal(at) {
		t.Errorf("obs = %+v", obs)
	}
}
