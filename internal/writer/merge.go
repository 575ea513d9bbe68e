package writer

import (
	"github.com/rickgao/coin-tracker/internal/model"
	"github.com/rickgao/coin-tracker/internal/store"
)

// MergeResult describes what a merge did to the stored record.
type MergeResult int

const (
	MergeInserted MergeResult = iota + 1
	MergeUpdated
	MergeUnchanged
)

// Merge upserts obs into tx.
func Merge(tx *store.Tx, obs model.PriceObservation) (MergeResult, error) {
	cur, ok := tx.Get(obs.Symbol)
	if !ok {
		if err := tx.Put(model.NewCoinRecord(obs)); err != nil {
			return 0, err
		}
		return MergeInserted, nil
	}

	next := cur
	next.Observe(obs)
	if next.Equal(cur) {
		return MergeUnchanged, nil
	}
	if err := tx.Put(next); err != nil {
		return 0, err
	}
	return MergeUpdated, nil
}
