package view

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rickgao/coin-tracker/internal/model"
	"github.com/rickgao/coin-tracker/internal/store"
)

func rec(symbol, price string) model.CoinRecord {
	p := decimal.RequireFromString(price)
	return model.CoinRecord{
		Symbol:       symbol,
		Name:         symbol + " coin",
		CurrentPrice: p,
		MinPrice:     p,
		MaxPrice:     p,
	}
}

func withPrice(r model.CoinRecord, price string) model.CoinRecord {
	r.Observe(model.PriceObservation{
		Symbol:  r.Symbol,
		Name:    r.Name,
		IconURL: r.IconURL,
		Price:   decimal.RequireFromString(price),
	})
	return r
}

func TestNewCoinView(t *testing.T) {
	r := withPrice(withPrice(rec("BTC", "64000"), "63000.123"), "65000")
	r.IconURL = "https://icons.example.com/btc.png"

	v := NewCoinView(r)
	want := CoinView{
		Symbol:  "BTC",
		Name:    "BTC coin",
		IconURL: "https://icons.example.com/btc.png",
		Current: "$ 65,000",
		Min:     "$ 63,000.12",
		Max:     "$ 65,000",
		Updated: r.UpdatedAt,
	}
	if v != want {
		t.Errorf("NewCoinView = %+v, want %+v", v, want)
	}
}

func TestListModel_UpdateBeforeInitial(t *testing.T) {
	m := NewListModel()
	_, err := m.Apply(store.Change{Kind: store.ChangeUpdate, Records: []model.CoinRecord{rec("A", "1")}, Insertions: []int{0}})
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}

func TestListModel_Apply(t *testing.T) {
	a, b, c := rec("A", "10"), rec("B", "20"), rec("C", "30")

	m := NewListModel()
	if _, err := m.Apply(store.Change{Kind: store.ChangeInitial, Records: []model.CoinRecord{a, b, c}}); err != nil {
		t.Fatalf("initial: %v", err)
	}
	if m.Len() != 3 {
		t.Fatalf("Len = %d, want 3", m.Len())
	}

	// Delete B, raise A, lower C, append D.
	a2, c2, d := withPrice(a, "11"), withPrice(c, "29"), rec("D", "0.25")
	u, err := m.Apply(store.Change{
		Kind:          store.ChangeUpdate,
		Records:       []model.CoinRecord{a2, c2, d},
		Deletions:     []int{1},
		Insertions:    []int{2},
		Modifications: []int{0, 1},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if len(u.Deleted) != 1 || u.Deleted[0] != "B" {
		t.Errorf("Deleted = %v, want [B]", u.Deleted)
	}
	if len(u.Inserted) != 1 || u.Inserted[0] != 2 {
		t.Errorf("Inserted = %v, want [2]", u.Inserted)
	}
	wantMods := []RowChange{
		{Index: 0, Symbol: "A", Direction: Up},
		{Index: 1, Symbol: "C", Direction: Down},
	}
	if len(u.Modifications) != len(wantMods) {
		t.Fatalf("Modifications = %+v, want %+v", u.Modifications, wantMods)
	}
	for i := range wantMods {
		if u.Modifications[i] != wantMods[i] {
			t.Errorf("Modifications[%d] = %+v, want %+v", i, u.Modifications[i], wantMods[i])
		}
	}

	rows := m.Rows()
	want := []string{"$ 11", "$ 29", "$ 0.25"}
	for i, r := range rows {
		if r.Current != want[i] {
			t.Errorf("row %d current = %q, want %q", i, r.Current, want[i])
		}
	}
	if row, ok := m.Row(2); !ok || row.Symbol != "D" {
		t.Errorf("Row(2) = %+v, %v, want D", row, ok)
	}
	if _, ok := m.Row(3); ok {
		t.Error("Row(3) should be out of range")
	}
}

func TestListModel_OutOfRangeLeavesModelUnchanged(t *testing.T) {
	m := NewListModel()
	m.Apply(store.Change{Kind: store.ChangeInitial, Records: []model.CoinRecord{rec("A", "1")}})

	_, err := m.Apply(store.Change{
		Kind:      store.ChangeUpdate,
		Records:   nil,
		Deletions: []int{4},
	})
	if !errors.Is(err, store.ErrIndexOutOfRange) {
		t.Fatalf("err = %v, want ErrIndexOutOfRange", err)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestListModel_ErrorChange(t *testing.T) {
	m := NewListModel()
	_, err := m.Apply(store.Change{Kind: store.ChangeError, Err: store.ErrClosed})
	if !errors.Is(err, store.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		old, cur string
		want     Direction
	}{
		{"1", "2", Up},
		{"2", "1", Down},
		{"1.50", "1.5", Flat},
	}
	for _, tt := range tests {
		if got := Compare(rec("X", tt.old), rec("X", tt.cur)); got != tt.want {
			t.Errorf("Compare(%s, %s) = %v, want %v", tt.old, tt.cur, got, tt.want)
		}
	}
}

func TestDirectionString(t *testing.T) {
	for d, want := range map[Direction]string{Flat: "flat", Up: "up", Down: "down"} {
		if d.String() != want {
			t.Errorf("%d.String() = %q, want %q", d, d.String(), want)
		}
	}
}
