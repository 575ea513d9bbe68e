package model

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func obs(symbol string, price string) PriceObservation {
	return PriceObservation{
		Symbol:     symbol,
		Name:       symbol + " coin",
		IconURL:    "https://icons.example.com/" + symbol + ".png",
		Price:      decimal.RequireFromString(price),
		Source:     SourceStream,
		ReceivedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewCoinRecord(t *testing.T) {
	o := obs("BTC", "64250.12")
	r := NewCoinRecord(o)

	if r.Symbol != "BTC" {
		t.Errorf("Symbol = %q, want %q", r.Symbol, "BTC")
	}
	if r.Name != "BTC coin" {
		t.Errorf("Name = %q, want %q", r.Name, "BTC coin")
	}
	if r.IconURL != o.IconURL {
		t.Errorf("IconURL = %q, want %q", r.IconURL, o.IconURL)
	}
	for name, got := range map[string]decimal.Decimal{
		"CurrentPrice": r.CurrentPrice,
		"MinPrice":     r.MinPrice,
		"MaxPrice":     r.MaxPrice,
	} {
		if !got.Equal(o.Price) {
			t.Errorf("%s = %s, want %s", name, got, o.Price)
		}
	}
	if r.UpdatedAt != o.ReceivedAt.UnixMicro() {
		t.Errorf("UpdatedAt = %d, want %d", r.UpdatedAt, o.ReceivedAt.UnixMicro())
	}
}

func TestObserve_Sequence(t *testing.T) {
	r := NewCoinRecord(obs("X", "10"))
	r.Observe(obs("X", "8"))
	r.Observe(obs("X", "12"))

	if !r.CurrentPrice.Equal(decimal.NewFromInt(12)) {
		t.Errorf("CurrentPrice = %s, want 12", r.CurrentPrice)
	}
	if !r.MinPrice.Equal(decimal.NewFromInt(8)) {
		t.Errorf("MinPrice = %s, want 8", r.MinPrice)
	}
	if !r.MaxPrice.Equal(decimal.NewFromInt(12)) {
		t.Errorf("MaxPrice = %s, want 12", r.MaxPrice)
	}
}

func TestObserve_ReplacesDisplayFields(t *testing.T) {
	r := NewCoinRecord(obs("ETH", "3000"))

	next := obs("ETH", "3001")
	next.Name = "Ether"
	next.IconURL = ""
	next.ReceivedAt = next.ReceivedAt.Add(time.Second)
	r.Observe(next)

	if r.Name != "Ether" {
		t.Errorf("Name = %q, want %q", r.Name, "Ether")
	}
	if r.IconURL != "" {
		t.Errorf("IconURL = %q, want empty", r.IconURL)
	}
	if r.UpdatedAt != next.ReceivedAt.UnixMicro() {
		t.Errorf("UpdatedAt = %d, want %d", r.UpdatedAt, next.ReceivedAt.UnixMicro())
	}
}

func TestObserve_UnchangedPrice(t *testing.T) {
	r := NewCoinRecord(obs("DOGE", "0.1234"))
	r.Observe(obs("DOGE", "0.12340"))

	if !r.MinPrice.Equal(r.MaxPrice) {
		t.Errorf("MinPrice = %s, MaxPrice = %s, want equal", r.MinPrice, r.MaxPrice)
	}
	if !r.InBounds() {
		t.Error("record out of bounds")
	}
}

// exclusiveObserve is the else-if form of the bounds update. It must agree
// with Observe for every record that satisfies the invariant.
func exclusiveObserve(r *CoinRecord, o PriceObservation) {
	r.CurrentPrice = o.Price
	if r.MinPrice.GreaterThan(o.Price) {
		r.MinPrice = o.Price
	} else if r.MaxPrice.LessThan(o.Price) {
		r.MaxPrice = o.Price
	}
}

func TestObserve_BoundsProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))

	for seq := 0; seq < 200; seq++ {
		first := obs("SYM", decimal.NewFromInt(rng.Int64N(100000)+1).Shift(-2).String())
		r := NewCoinRecord(first)
		legacy := r

		lo, hi := first.Price, first.Price
		for step := 0; step < 50; step++ {
			p := decimal.NewFromInt(rng.Int64N(100000) + 1).Shift(-2)
			o := obs("SYM", p.String())

			r.Observe(o)
			exclusiveObserve(&legacy, o)

			lo = decimal.Min(lo, p)
			hi = decimal.Max(hi, p)

			if !r.InBounds() {
				t.Fatalf("seq %d step %d: min %s current %s max %s out of bounds",
					seq, step, r.MinPrice, r.CurrentPrice, r.MaxPrice)
			}
			if !r.MinPrice.Equal(lo) || !r.MaxPrice.Equal(hi) {
				t.Fatalf("seq %d step %d: bounds [%s, %s], want [%s, %s]",
					seq, step, r.MinPrice, r.MaxPrice, lo, hi)
			}
			if !legacy.MinPrice.Equal(r.MinPrice) || !legacy.MaxPrice.Equal(r.MaxPrice) {
				t.Fatalf("seq %d step %d: else-if bounds [%s, %s] diverged from [%s, %s]",
					seq, step, legacy.MinPrice, legacy.MaxPrice, r.MinPrice, r.MaxPrice)
			}
		}
	}
}

func TestInBounds(t *testing.T) {
	tests := []struct {
		name          string
		min, cur, max string
		want          bool
	}{
		{"all equal", "1", "1", "1", true},
		{"strictly inside", "1", "2", "3", true},
		{"below min", "2", "1", "3", false},
		{"above max", "1", "4", "3", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := CoinRecord{
				MinPrice:     decimal.RequireFromString(tt.min),
				CurrentPrice: decimal.RequireFromString(tt.cur),
				MaxPrice:     decimal.RequireFromString(tt.max),
			}
			if got := r.InBounds(); got != tt.want {
				t.Errorf("InBounds() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEqual_NumericPrices(t *testing.T) {
	a := NewCoinRecord(obs("ADA", "1.50"))
	b := NewCoinRecord(obs("ADA", "1.5"))
	if !a.Equal(b) {
		t.Error("records differing only in trailing zeros should be equal")
	}

	b.Name = "Cardano"
	if a.Equal(b) {
		t.Error("records with different names should not be equal")
	}
}
