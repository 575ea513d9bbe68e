package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/coin-tracker/internal/config"
	"github.com/rickgao/coin-tracker/internal/database"
	"github.com/rickgao/coin-tracker/internal/model"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS coins (
		seq BIGSERIAL NOT NULL,
		symbol TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		icon_url TEXT NOT NULL DEFAULT '',
		current_price NUMERIC NOT NULL,
		min_price NUMERIC NOT NULL,
		max_price NUMERIC NOT NULL,
		updated_at BIGINT NOT NULL
	)
`

type postgresBackend struct {
	pool    *pgxpool.Pool
	ownPool bool
}

// OpenPostgresConfig connects a pool from cfg and opens the store on it.
// The store closes the pool on Close.
func OpenPostgresConfig(ctx context.Context, cfg config.DBConfig, appName string, logger *slog.Logger) (*Store, error) {
	pool, err := database.Connect(ctx, cfg, appName, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s, err := openPostgres(ctx, pool, true, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres opens the store on an existing pool. The caller keeps
// ownership of the pool.
func OpenPostgres(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	return openPostgres(ctx, pool, false, logger)
}

func openPostgres(ctx context.Context, pool *pgxpool.Pool, own bool, logger *slog.Logger) (*Store, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create coins table: %w", err)
	}
	return newStore(ctx, &postgresBackend{pool: pool, ownPool: own}, logger)
}

func (b *postgresBackend) load(ctx context.Context) ([]model.CoinRecord, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT symbol, name, icon_url, current_price::text, min_price::text, max_price::text, updated_at
		FROM coins ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.CoinRecord
	for rows.Next() {
		var (
			rec             model.CoinRecord
			current, lo, hi string
		)
		if err := rows.Scan(&rec.Symbol, &rec.Name, &rec.IconURL, &current, &lo, &hi, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan coin: %w", err)
		}
		if err := parsePrices(&rec, current, lo, hi); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (b *postgresBackend) begin(ctx context.Context) (backendTx, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: tx}, nil
}

func (b *postgresBackend) close() error {
	if b.ownPool {
		b.pool.Close()
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) insert(ctx context.Context, rec model.CoinRecord) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO coins (symbol, name, icon_url, current_price, min_price, max_price, updated_at)
		 VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7)`,
		rec.Symbol, rec.Name, rec.IconURL,
		rec.CurrentPrice.String(), rec.MinPrice.String(), rec.MaxPrice.String(),
		rec.UpdatedAt,
	)
	return err
}

func (t *postgresTx) update(ctx context.Context, rec model.CoinRecord) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE coins SET name = $2, icon_url = $3, current_price = $4::numeric,
		 min_price = $5::numeric, max_price = $6::numeric, updated_at = $7
		 WHERE symbol = $1`,
		rec.Symbol, rec.Name, rec.IconURL,
		rec.CurrentPrice.String(), rec.MinPrice.String(), rec.MaxPrice.String(),
		rec.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return expectOneTag(tag)
}

func (t *postgresTx) delete(ctx context.Context, symbol string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM coins WHERE symbol = $1`, symbol)
	if err != nil {
		return err
	}
	return expectOneTag(tag)
}

func (t *postgresTx) commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *postgresTx) rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

func expectOneTag(tag pgconn.CommandTag) error {
	if n := tag.RowsAffected(); n != 1 {
		return fmt.Errorf("%d rows affected, want 1", n)
	}
	return nil
}
