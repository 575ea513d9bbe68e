package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/coin-tracker/internal/model"
)

// Frame types sent on the price stream.
const (
	FrameConnected    = "connected"
	FrameCoinUpdate   = "coin_update"
	FrameConnectAfter = "connect_after"
)

var (
	ErrMissingCode  = errors.New("coin code is required")
	ErrInvalidPrice = errors.New("coin price must not be negative")
)

// Coin is one coin as the feed describes it. Price accepts JSON numbers
// and quoted strings.
type Coin struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	ImageURL string          `json:"image_url,omitempty"`
	Price    decimal.Decimal `json:"price"`
}

// Validate checks the fields every merge relies on.
func (c Coin) Validate() error {
	if strings.TrimSpace(c.Code) == "" {
		return ErrMissingCode
	}
	if c.Price.IsNegative() {
		return fmt.Errorf("%s: %w", c.Code, ErrInvalidPrice)
	}
	return nil
}

// Observation converts the coin into a price event.
func (c Coin) Observation(source string, receivedAt time.Time) model.PriceObservation {
	return model.PriceObservation{
		Symbol:     strings.ToUpper(strings.TrimSpace(c.Code)),
		Name:       c.Name,
		IconURL:    c.ImageURL,
		Price:      c.Price,
		Source:     source,
		ReceivedAt: receivedAt,
	}
}

// CoinsResponse is the body of GET /coins.
type CoinsResponse struct {
	Coins []Coin `json:"coins"`
}

// Frame is one message on the price stream.
type Frame struct {
	Type    string `json:"type"`
	Coin    *Coin  `json:"coin,omitempty"`
	RetryAt string `json:"retry_at,omitempty"`
}

// ParseFrame decodes a stream message and checks the fields its type needs.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("unmarshal frame: %w", err)
	}

	switch f.Type {
	case FrameCoinUpdate:
		if f.Coin == nil {
			return Frame{}, fmt.Errorf("coin_update without coin")
		}
		if err := f.Coin.Validate(); err != nil {
			return Frame{}, err
		}
	case FrameConnectAfter:
		if _, err := f.ConnectAfter(); err != nil {
			return Frame{}, err
		}
	}
	return f, nil
}

// ConnectAfter converts a connect_after frame to its error.
func (f Frame) ConnectAfter() (*ConnectAfterError, error) {
	t, err := time.Parse(time.RFC3339, f.RetryAt)
	if err != nil {
		return nil, fmt.Errorf("parse retry_at %q: %w", f.RetryAt, err)
	}
	return &ConnectAfterError{RetryAt: t}, nil
}
