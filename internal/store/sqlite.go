package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	_ "github.com/glebarez/go-sqlite"

	"github.com/rickgao/coin-tracker/internal/model"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS coins (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		icon_url TEXT NOT NULL DEFAULT '',
		current_price TEXT NOT NULL,
		min_price TEXT NOT NULL,
		max_price TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
`

type sqliteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the coin table in the SQLite file at path.
// Use ":memory:" for a throwaway store.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// One connection: pragmas stick, and ":memory:" stays a single database
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create coins table: %w", err)
	}

	return newStore(ctx, &sqliteBackend{db: db}, logger)
}

func (b *sqliteBackend) load(ctx context.Context) ([]model.CoinRecord, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT symbol, name, icon_url, current_price, min_price, max_price, updated_at
		FROM coins ORDER BY id`)
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

func (b *sqliteBackend) begin(ctx context.Context) (backendTx, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) insert(ctx context.Context, rec model.CoinRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO coins (symbol, name, icon_url, current_price, min_price, max_price, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Symbol, rec.Name, rec.IconURL,
		rec.CurrentPrice.String(), rec.MinPrice.String(), rec.MaxPrice.String(),
		rec.UpdatedAt,
	)
	return err
}

func (t *sqliteTx) update(ctx context.Context, rec model.CoinRecord) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE coins SET name = ?, icon_url = ?, current_price = ?, min_price = ?, max_price = ?, updated_at = ?
		 WHERE symbol = ?`,
		rec.Name, rec.IconURL,
		rec.CurrentPrice.String(), rec.MinPrice.String(), rec.MaxPrice.String(),
		rec.UpdatedAt, rec.Symbol,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (t *sqliteTx) delete(ctx context.Context, symbol string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM coins WHERE symbol = ?`, symbol)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (t *sqliteTx) commit(context.Context) error {
	return t.tx.Commit()
}

func (t *sqliteTx) rollback(context.Context) error {
	return t.tx.Rollback()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%d rows affected, want 1", n)
	}
	return nil
}

func parsePrices(rec *model.CoinRecord, current, lo, hi string) error {
	var err error
	if rec.CurrentPrice, err = decimal.NewFromString(current); err != nil {
		return fmt.Errorf("parse current_price of %s: %w", rec.Symbol, err)
	}
	if rec.MinPrice, err = decimal.NewFromString(lo); err != nil {
		return fmt.Errorf("parse min_price of %s: %w", rec.Symbol, err)
	}
	if rec.MaxPrice, err = decimal.NewFromString(hi); err != nil {
		return fmt.Errorf("parse max_price of %s: %w", rec.Symbol, err)
	}
	return nil
}
