package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rickgao/coin-tracker/internal/model"
)

// Tx is a write transaction. It is only valid inside the Write callback.
type Tx struct {
	ctx   context.Context
	store *Store
	btx   backendTx
	err   error // First backend error; poisons the transaction
	done  bool

	staged   map[string]model.CoinRecord // Puts not yet committed
	inserted []string                    // Symbols new in this transaction, in order
	modified map[string]bool             // Existing symbols changed in this transaction
	deleted  map[string]bool             // Existing symbols deleted in this transaction
}

func newTx(ctx context.Context, s *Store, btx backendTx) *Tx {
	return &Tx{
		ctx:      ctx,
		store:    s,
		btx:      btx,
		staged:   make(map[string]model.CoinRecord),
		modified: make(map[string]bool),
		deleted:  make(map[string]bool),
	}
}

// Get returns the record for symbol as seen by this transaction.
func (tx *Tx) Get(symbol string) (model.CoinRecord, bool) {
	if rec, ok := tx.staged[symbol]; ok {
		return rec, true
	}
	if tx.deleted[symbol] {
		return model.CoinRecord{}, false
	}
	return tx.store.get(symbol)
}

// Put inserts rec or replaces the record with the same symbol. Writing a
// value equal to the current one is a no-op.
func (tx *Tx) Put(rec model.CoinRecord) error {
	if err := tx.usable(); err != nil {
		return err
	}
	if strings.TrimSpace(rec.Symbol) == "" {
		return ErrInvalidSymbol
	}

	cur, exists := tx.Get(rec.Symbol)
	if exists && cur.Equal(rec) {
		return nil
	}

	if exists {
		if err := tx.btx.update(tx.ctx, rec); err != nil {
			return tx.fail(fmt.Errorf("update %s: %w", rec.Symbol, err))
		}
	} else {
		if err := tx.btx.insert(tx.ctx, rec); err != nil {
			return tx.fail(fmt.Errorf("insert %s: %w", rec.Symbol, err))
		}
	}

	_, base := tx.store.get(rec.Symbol)
	switch {
	case !exists:
		// New row, appended at the end (a re-put after delete is a new row too)
		tx.inserted = append(tx.inserted, rec.Symbol)
	case base && !tx.deleted[rec.Symbol] && !tx.isInserted(rec.Symbol):
		tx.modified[rec.Symbol] = true
	}
	tx.staged[rec.Symbol] = rec
	return nil
}

// Delete removes the record for symbol.
func (tx *Tx) Delete(symbol string) error {
	if err := tx.usable(); err != nil {
		return err
	}
	if _, ok := tx.Get(symbol); !ok {
		return fmt.Errorf("%s: %w", symbol, ErrNotFound)
	}

	if err := tx.btx.delete(tx.ctx, symbol); err != nil {
		return tx.fail(fmt.Errorf("delete %s: %w", symbol, err))
	}

	delete(tx.staged, symbol)
	delete(tx.modified, symbol)
	if tx.isInserted(symbol) {
		tx.removeInserted(symbol)
		return nil
	}
	tx.deleted[symbol] = true
	return nil
}

func (tx *Tx) usable() error {
	if tx.done {
		return ErrTxDone
	}
	return tx.err
}

func (tx *Tx) fail(err error) error {
	if tx.err == nil {
		tx.err = err
	}
	return err
}

func (tx *Tx) isInserted(symbol string) bool {
	for _, s := range tx.inserted {
		if s == symbol {
			return true
		}
	}
	return false
}

func (tx *Tx) removeInserted(symbol string) {
	for i, s := range tx.inserted {
		if s == symbol {
			tx.inserted = append(tx.inserted[:i], tx.inserted[i+1:]...)
			return
		}
	}
}

// diff builds the new snapshot from prev and the staged changes.
func (tx *Tx) diff(prev []model.CoinRecord) ([]model.CoinRecord, Change) {
	change := Change{Kind: ChangeUpdate}
	next := make([]model.CoinRecord, 0, len(prev)+len(tx.inserted))

	for i, rec := range prev {
		if tx.deleted[rec.Symbol] {
			change.Deletions = append(change.Deletions, i)
			continue
		}
		if tx.modified[rec.Symbol] {
			rec = tx.staged[rec.Symbol]
			change.Modifications = append(change.Modifications, len(next))
		}
		next = append(next, rec)
	}
	for _, symbol := range tx.inserted {
		change.Insertions = append(change.Insertions, len(next))
		next = append(next, tx.staged[symbol])
	}

	change.Records = next
	return next, change
}
