package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/coin-tracker/internal/config"
	"github.com/rickgao/coin-tracker/internal/model"
)

var (
	ErrClosed          = errors.New("store closed")
	ErrNotFound        = errors.New("coin not found")
	ErrInvalidSymbol   = errors.New("symbol is required")
	ErrTxDone          = errors.New("transaction already finished")
	ErrIndexOutOfRange = errors.New("change index out of range")
)

// Stats reports store activity.
type Stats struct {
	Records     int
	Subscribers int
	Commits     int64 // Writes that changed at least one row
	NoOps       int64 // Writes that committed without changes
	Rollbacks   int64
}

// Store is the local coin table. It is safe for concurrent use.
type Store struct {
	backend backend
	logger  *slog.Logger

	writeMu sync.Mutex // Serializes Write

	mu      sync.RWMutex
	records []model.CoinRecord // Insertion order
	index   map[string]int
	subs    map[uuid.UUID]*Subscription
	closed  bool

	commits   atomic.Int64
	noops     atomic.Int64
	rollbacks atomic.Int64
}

// Open opens the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, appName string, logger *slog.Logger) (*Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return OpenSQLite(ctx, cfg.Path, logger)
	case config.DriverPostgres:
		return OpenPostgresConfig(ctx, cfg.Postgres, appName, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newStore(ctx context.Context, b backend, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	records, err := b.load(ctx)
	if err != nil {
		b.close()
		return nil, fmt.Errorf("load coins: %w", err)
	}

	s := &Store{
		backend: b,
		logger:  logger,
		records: records,
		index:   make(map[string]int, len(records)),
		subs:    make(map[uuid.UUID]*Subscription),
	}
	for i, rec := range records {
		s.index[rec.Symbol] = i
	}

	logger.Info("store opened", "coins", len(records))
	return s, nil
}

// Get returns the committed record for symbol.
func (s *Store) Get(symbol string) (model.CoinRecord, bool) {
	return s.get(symbol)
}

func (s *Store) get(symbol string) (model.CoinRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[symbol]
	if !ok {
		return model.CoinRecord{}, false
	}
	return s.records[i], true
}

// List returns a copy of every record in insertion order.
func (s *Store) List() []model.CoinRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.CoinRecord(nil), s.records...)
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Write runs fn inside a serialized backend transaction. If fn or the commit
// fails the transaction is rolled back and nothing is published.
func (s *Store) Write(ctx context.Context, fn func(*Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.isClosed() {
		return ErrClosed
	}

	btx, err := s.backend.begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	tx := newTx(ctx, s, btx)
	defer func() { tx.done = true }()

	if err := fn(tx); err != nil {
		s.rollback(ctx, btx)
		return err
	}
	if tx.err != nil {
		s.rollback(ctx, btx)
		return tx.err
	}
	if err := btx.commit(ctx); err != nil {
		s.rollbacks.Add(1)
		return fmt.Errorf("commit: %w", err)
	}

	s.publish(tx)
	return nil
}

func (s *Store) rollback(ctx context.Context, btx backendTx) {
	s.rollbacks.Add(1)
	if err := btx.rollback(ctx); err != nil {
		s.logger.Warn("rollback failed", "error", err)
	}
}

// publish swaps in the new snapshot and queues the change for subscribers.
func (s *Store) publish(tx *Tx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, change := tx.diff(s.records)
	if change.Empty() {
		s.noops.Add(1)
		return
	}

	s.records = next
	s.index = make(map[string]int, len(next))
	for i, rec := range next {
		s.index[rec.Symbol] = i
	}
	s.commits.Add(1)

	for _, sub := range s.subs {
		sub.queue.Send(change)
	}
}

// Subscribe returns a subscription whose first value is the current
// snapshot. After Close, Subscribe returns a subscription that yields a
// single ChangeError.
func (s *Store) Subscribe() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := newSubscription(s)
	if s.closed {
		sub.queue.Send(Change{Kind: ChangeError, Err: ErrClosed})
		sub.queue.Close()
		return sub
	}

	sub.queue.Send(Change{Kind: ChangeInitial, Records: append([]model.CoinRecord(nil), s.records...)})
	s.subs[sub.ID] = sub
	return sub
}

func (s *Store) unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// Stats returns current statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Records:     len(s.records),
		Subscribers: len(s.subs),
		Commits:     s.commits.Load(),
		NoOps:       s.noops.Load(),
		Rollbacks:   s.rollbacks.Load(),
	}
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close waits for an in-flight write, ends every subscription with
// ChangeError(ErrClosed) and closes the backend.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, sub := range s.subs {
		sub.queue.Send(Change{Kind: ChangeError, Err: ErrClosed})
		sub.queue.Close()
		delete(s.subs, id)
	}
	s.mu.Unlock()

	s.logger.Info("store closed")
	return s.backend.close()
}
