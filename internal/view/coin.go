package view

import "github.com/rickgao/coin-tracker/internal/model"

// CoinView is one display row.
type CoinView struct {
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
	Current string `json:"current"`
	Min     string `json:"min"`
	Max     string `json:"max"`
	Updated int64  `json:"updated_at"` // µs since epoch
}

// NewCoinView formats r for display.
func NewCoinView(r model.CoinRecord) CoinView {
	return CoinView{
		Symbol:  r.Symbol,
		Name:    r.Name,
		IconURL: r.IconURL,
		Current: FormatPrice(r.CurrentPrice),
		Min:     FormatPrice(r.MinPrice),
		Max:     FormatPrice(r.MaxPrice),
		Updated: r.UpdatedAt,
	}
}

// NewCoinViews formats a snapshot in order.
func NewCoinViews(recs []model.CoinRecord) []CoinView {
	out := make([]CoinView, len(recs))
	for i, r := range recs {
		out[i] = NewCoinView(r)
	}
	return out
}
