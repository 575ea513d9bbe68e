package publish

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rickgao/coin-tracker/internal/model"
	"github.com/rickgao/coin-tracker/internal/store"
)

// fakeRedis records commands in memory.
type fakeRedis struct {
	mu       sync.Mutex
	hash     map[string]string
	messages []Message
	failHSet error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{hash: make(map[string]string)}
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var m Message
	if err := json.Unmarshal(message.([]byte), &m); err != nil {
		return redis.NewIntResult(0, err)
	}
	f.messages = append(f.messages, m)
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHSet != nil {
		return redis.NewIntResult(0, f.failHSet)
	}
	for i := 0; i+1 < len(values); i += 2 {
		f.hash[values[i].(string)] = string(values[i+1].([]byte))
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeRedis) HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range fields {
		delete(f.hash, k)
	}
	return redis.NewIntResult(int64(len(fields)), nil)
}

func (f *fakeRedis) snapshot() ([]Message, map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := make(map[string]string, len(f.hash))
	for k, v := range f.hash {
		h[k] = v
	}
	return append([]Message(nil), f.messages...), h
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "coins.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func coin(symbol, price string) model.CoinRecord {
	p := decimal.RequireFromString(price)
	return model.CoinRecord{Symbol: symbol, Name: symbol, CurrentPrice: p, MinPrice: p, MaxPrice: p}
}

func write(t *testing.T, s *store.Store, fn func(tx *store.Tx) error) {
	t.Helper()
	if err := s.Write(context.Background(), fn); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func waitMessages(t *testing.T, f *fakeRedis, n int) []Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if msgs, _ := f.snapshot(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	msgs, _ := f.snapshot()
	t.Fatalf("got %d messages, want %d", len(msgs), n)
	return nil
}

func TestPublisher_MirrorsChanges(t *testing.T) {
	st := openStore(t)
	write(t, st, func(tx *store.Tx) error { return tx.Put(coin("BTC", "64000")) })

	rdb := newFakeRedis()
	p := New(Config{}, rdb, st, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(context.Background())

	waitMessages(t, rdb, 1)

	write(t, st, func(tx *store.Tx) error {
		if err := tx.Put(coin("ETH", "3100")); err != nil {
			return err
		}
		return tx.Put(coin("SOL", "150"))
	})
	write(t, st, func(tx *store.Tx) error {
		if err := tx.Delete("BTC"); err != nil {
			return err
		}
		return tx.Put(coin("ETH", "3200"))
	})

	msgs := waitMessages(t, rdb, 3)

	if msgs[0].Kind != "initial" || len(msgs[0].Coins) != 1 {
		t.Errorf("initial message = %+v", msgs[0])
	}
	if msgs[1].Kind != "update" || len(msgs[1].Insertions) != 2 || len(msgs[1].Coins) != 2 {
		t.Errorf("insert message = %+v", msgs[1])
	}
	last := msgs[2]
	if len(last.Removed) != 1 || last.Removed[0] != "BTC" {
		t.Errorf("Removed = %v, want [BTC]", last.Removed)
	}
	if len(last.Coins) != 1 || last.Coins[0].Symbol != "ETH" {
		t.Errorf("Coins = %+v, want ETH only", last.Coins)
	}

	_, hash := rdb.snapshot()
	if _, ok := hash["BTC"]; ok {
		t.Error("BTC should be removed from the hash")
	}
	var eth model.CoinRecord
	if err := json.Unmarshal([]byte(hash["ETH"]), &eth); err != nil {
		t.Fatalf("unmarshal ETH: %v", err)
	}
	if !eth.CurrentPrice.Equal(decimal.NewFromInt(3200)) {
		t.Errorf("ETH price = %s, want 3200", eth.CurrentPrice)
	}
	if _, ok := hash["SOL"]; !ok {
		t.Error("SOL missing from hash")
	}
	if got := p.Stats().Published; got != 3 {
		t.Errorf("Published = %d, want 3", got)
	}
}

func TestPublisher_RedisErrorIsCounted(t *testing.T) {
	st := openStore(t)
	rdb := newFakeRedis()
	rdb.failHSet = errors.New("connection refused")

	p := New(Config{}, rdb, st, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(context.Background())

	// The initial snapshot is empty, so it publishes without touching the hash.
	waitMessages(t, rdb, 1)

	write(t, st, func(tx *store.Tx) error { return tx.Put(coin("BTC", "1")) })

	deadline := time.Now().Add(3 * time.Second)
	for p.Stats().Errors == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", p.Stats().Errors)
	}
	if msgs, _ := rdb.snapshot(); len(msgs) != 1 {
		t.Errorf("messages = %d, want 1", len(msgs))
	}
}

func TestMessage_DeletionOutOfRange(t *testing.T) {
	p := New(Config{}, newFakeRedis(), nil, nil)
	_, err := p.message(store.Change{Kind: store.ChangeUpdate, Deletions: []int{0}})
	if !errors.Is(err, store.ErrIndexOutOfRange) {
		t.Errorf("err = %v, want ErrIndexOutOfRange", err)
	}
}
