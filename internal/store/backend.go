package store

import (
	"context"

	"github.com/rickgao/coin-tracker/internal/model"
)

// backend is the durable table behind a Store. The Store is its only
// writer, so reads after open are served from memory.
type backend interface {
	// load returns every record in insertion order.
	load(ctx context.Context) ([]model.CoinRecord, error)
	begin(ctx context.Context) (backendTx, error)
	close() error
}

type backendTx interface {
	insert(ctx context.Context, rec model.CoinRecord) error
	update(ctx context.Context, rec model.CoinRecord) error
	delete(ctx context.Context, symbol string) error
	commit(ctx context.Context) error
	rollback(ctx context.Context) error
}
