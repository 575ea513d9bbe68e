package store

import (
	"context"
	"errors"
	"testing"

	"github.com/rickgao/coin-tracker/internal/model"
)

// faultyBackend keeps nothing and fails on demand.
type faultyBackend struct {
	insertErr error
	commitErr error
	rollbacks int
}

func (b *faultyBackend) load(context.Context) ([]model.CoinRecord, error) { return nil, nil }
func (b *faultyBackend) begin(context.Context) (backendTx, error)         { return &faultyTx{b: b}, nil }
func (b *faultyBackend) close() error                                     { return nil }

type faultyTx struct {
	b *faultyBackend
}

func (t *faultyTx) insert(context.Context, model.CoinRecord) error { return t.b.insertErr }
func (t *faultyTx) update(context.Context, model.CoinRecord) error { return nil }
func (t *faultyTx) delete(context.Context, string) error           { return nil }
func (t *faultyTx) commit(context.Context) error                   { return t.b.commitErr }

func (t *faultyTx) rollback(context.Context) error {
	t.b.rollbacks++
	return nil
}

func TestWrite_BackendErrorPoisonsTx(t *testing.T) {
	diskFull := errors.New("disk full")
	b := &faultyBackend{insertErr: diskFull}
	s, err := newStore(context.Background(), b, nil)
	if err != nil {
		t.Fatalf("newStore failed: %v", err)
	}

	// The callback swallows the error; the write must still fail.
	err = s.Write(context.Background(), func(tx *Tx) error {
		_ = tx.Put(coin("BTC", "1"))
		return nil
	})
	if !errors.Is(err, diskFull) {
		t.Fatalf("Write error = %v, want disk full", err)
	}
	if b.rollbacks != 1 {
		t.Errorf("rollbacks = %d, want 1", b.rollbacks)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestWrite_CommitError(t *testing.T) {
	b := &faultyBackend{commitErr: errors.New("locked")}
	s, err := newStore(context.Background(), b, nil)
	if err != nil {
		t.Fatalf("newStore failed: %v", err)
	}
	sub := s.Subscribe()
	defer sub.Close()
	recv(t, sub)

	err = s.Write(context.Background(), func(tx *Tx) error {
		return tx.Put(coin("BTC", "1"))
	})
	if err == nil {
		t.Fatal("expected commit error")
	}

	expectNothing(t, sub)
	if _, ok := s.Get("BTC"); ok {
		t.Error("BTC should not be visible after a failed commit")
	}
}
