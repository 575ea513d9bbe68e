package view

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rickgao/coin-tracker/internal/model"
	"github.com/rickgao/coin-tracker/internal/store"
)

// ErrNotReady is returned when an update arrives before the initial snapshot.
var ErrNotReady = errors.New("list model has no initial snapshot")

// Direction is how a modified row's current price moved.
type Direction int

const (
	Flat Direction = iota
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "flat"
	}
}

// RowChange is one modified row.
type RowChange struct {
	Index     int
	Symbol    string
	Direction Direction
}

// Update summarizes one applied change.
type Update struct {
	Kind          store.ChangeKind
	Deleted       []string // Symbols removed, in previous-snapshot order
	Inserted      []int
	Modifications []RowChange
}

// ListModel mirrors a store subscription for display.
type ListModel struct {
	mu    sync.RWMutex
	rows  []model.CoinRecord
	ready bool
}

// NewListModel returns an empty model awaiting its initial snapshot.
func NewListModel() *ListModel {
	return &ListModel{}
}

// Apply replays c: deletions, then insertions, then modifications.
// On error the model is left unchanged.
func (m *ListModel) Apply(c store.Change) (Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := Update{Kind: c.Kind}

	switch c.Kind {
	case store.ChangeInitial:
		m.rows = append([]model.CoinRecord(nil), c.Records...)
		m.ready = true
		return u, nil
	case store.ChangeUpdate:
	case store.ChangeError:
		return u, c.Err
	default:
		return u, fmt.Errorf("unknown change kind %d", c.Kind)
	}

	if !m.ready {
		return u, ErrNotReady
	}

	prev := m.rows
	next, err := store.Apply(prev, c)
	if err != nil {
		return u, err
	}

	bySymbol := make(map[string]model.CoinRecord, len(prev))
	for _, r := range prev {
		bySymbol[r.Symbol] = r
	}

	for _, idx := range c.Deletions {
		u.Deleted = append(u.Deleted, prev[idx].Symbol)
	}
	u.Inserted = append(u.Inserted, c.Insertions...)
	for _, idx := range c.Modifications {
		cur := next[idx]
		rc := RowChange{Index: idx, Symbol: cur.Symbol}
		if old, ok := bySymbol[cur.Symbol]; ok {
			rc.Direction = Compare(old, cur)
		}
		u.Modifications = append(u.Modifications, rc)
	}

	m.rows = next
	return u, nil
}

// Compare reports how the current price moved from old to cur.
func Compare(old, cur model.CoinRecord) Direction {
	switch cur.CurrentPrice.Cmp(old.CurrentPrice) {
	case 1:
		return Up
	case -1:
		return Down
	default:
		return Flat
	}
}

// Len returns the number of rows.
func (m *ListModel) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

// Row returns the display row at i.
func (m *ListModel) Row(i int) (CoinView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= len(m.rows) {
		return CoinView{}, false
	}
	return NewCoinView(m.rows[i]), true
}

// Rows returns every display row in order.
func (m *ListModel) Rows() []CoinView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return NewCoinViews(m.rows)
}

// Records returns a copy of the mirrored snapshot.
func (m *ListModel) Records() []model.CoinRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.CoinRecord(nil), m.rows...)
}
