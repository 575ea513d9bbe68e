package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Observation sources.
const (
	SourceStream = "stream" // incremental coin_update frame
	SourceREST   = "rest"   // full fetch via GET /coins
)

// CoinRecord is the locally persisted state of one coin.
//
// Invariant: MinPrice <= CurrentPrice <= MaxPrice after every merge.
type CoinRecord struct {
	Symbol       string          `json:"symbol"`   // Primary key (e.g. "BTC")
	Name         string          `json:"name"`     // Display name
	IconURL      string          `json:"icon_url"` // Empty when the feed has no icon
	CurrentPrice decimal.Decimal `json:"current_price"`
	MinPrice     decimal.Decimal `json:"min_price"` // Lowest price observed
	MaxPrice     decimal.Decimal `json:"max_price"` // Highest price observed
	UpdatedAt    int64           `json:"updated_at"` // Last merge (µs since epoch)
}

// PriceObservation is one incoming price for a coin, from either the full
// fetch or a stream update. It is never persisted as-is.
type PriceObservation struct {
	Symbol     string
	Name       string
	IconURL    string
	Price      decimal.Decimal
	Source     string    // SourceStream or SourceREST
	ReceivedAt time.Time // Local receive time
}

// NewCoinRecord seeds a record from the first observation of a symbol.
// Current, min and max all start at the observed price.
func NewCoinRecord(obs PriceObservation) CoinRecord {
	return CoinRecord{
		Symbol:       obs.Symbol,
		Name:         obs.Name,
		IconURL:      obs.IconURL,
		CurrentPrice: obs.Price,
		MinPrice:     obs.Price,
		MaxPrice:     obs.Price,
		UpdatedAt:    obs.ReceivedAt.UnixMicro(),
	}
}

// Observe merges a later observation into an existing record: display fields
// and current price are replaced, then min and max are widened independently.
func (r *CoinRecord) Observe(obs PriceObservation) {
	r.Name = obs.Name
	r.IconURL = obs.IconURL
	r.CurrentPrice = obs.Price
	r.UpdatedAt = obs.ReceivedAt.UnixMicro()

	if obs.Price.LessThan(r.MinPrice) {
		r.MinPrice = obs.Price
	}
	if obs.Price.GreaterThan(r.MaxPrice) {
		r.MaxPrice = obs.Price
	}
}

// InBounds reports whether MinPrice <= CurrentPrice <= MaxPrice.
func (r CoinRecord) InBounds() bool {
	return r.MinPrice.LessThanOrEqual(r.CurrentPrice) && r.CurrentPrice.LessThanOrEqual(r.MaxPrice)
}

// Equal compares records by value. Prices compare numerically, so "1.50"
// and "1.5" are equal.
func (r CoinRecord) Equal(o CoinRecord) bool {
	return r.Symbol == o.Symbol &&
		r.Name == o.Name &&
		r.IconURL == o.IconURL &&
		r.CurrentPrice.Equal(o.CurrentPrice) &&
		r.MinPrice.Equal(o.MinPrice) &&
		r.MaxPrice.Equal(o.MaxPrice) &&
		r.UpdatedAt == o.UpdatedAt
}
