package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/coin-tracker/internal/model"
	"github.com/rickgao/coin-tracker/internal/store"
)

// Client is the subset of *redis.Client the publisher uses.
type Client interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
}

// Config holds publisher configuration.
type Config struct {
	Channel string        // Pub/sub channel (default: coins:changes)
	HashKey string        // Hash of latest records (default: coins:latest)
	Timeout time.Duration // Per-change timeout (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Channel: "coins:changes",
		HashKey: "coins:latest",
		Timeout: 5 * time.Second,
	}
}

// Message is the JSON published per change.
type Message struct {
	Kind          string             `json:"kind"`
	Deletions     []int              `json:"deletions,omitempty"`
	Insertions    []int              `json:"insertions,omitempty"`
	Modifications []int              `json:"modifications,omitempty"`
	Coins         []model.CoinRecord `json:"coins,omitempty"`   // Inserted and modified, or all for initial
	Removed       []string           `json:"removed,omitempty"` // Deleted symbols
}

// Stats reports publisher activity.
type Stats struct {
	Published int64
	Errors    int64
}

// Publisher forwards store changes to Redis.
type Publisher struct {
	cfg    Config
	client Client
	store  *store.Store
	logger *slog.Logger

	sub  *store.Subscription
	prev []model.CoinRecord

	published atomic.Int64
	errors    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Publisher.
func New(cfg Config, client Client, st *store.Store, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	if cfg.HashKey == "" {
		cfg.HashKey = def.HashKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Publisher{cfg: cfg, client: client, store: st, logger: logger}
}

// Start subscribes to the store.
func (p *Publisher) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.sub = p.store.Subscribe()

	p.wg.Add(1)
	go p.run()

	p.logger.Info("change publisher started",
		"channel", p.cfg.Channel,
		"hash", p.cfg.HashKey,
	)
	return nil
}

// Stop unsubscribes and waits for the current change to finish.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.sub != nil {
		p.sub.Close()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if p.cancel != nil {
			p.cancel()
		}
		p.logger.Info("change publisher stopped",
			"published", p.published.Load(),
			"errors", p.errors.Load(),
		)
		return nil
	case <-ctx.Done():
		if p.cancel != nil {
			p.cancel()
		}
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Errors:    p.errors.Load(),
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for c := range p.sub.C {
		if c.Kind == store.ChangeError {
			p.logger.Warn("store change stream ended", "error", c.Err)
			continue
		}
		if err := p.handle(c); err != nil {
			p.errors.Add(1)
			p.logger.Error("publish change failed", "kind", c.Kind, "error", err)
		}
	}
}

func (p *Publisher) handle(c store.Change) error {
	msg, err := p.message(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	if len(msg.Coins) > 0 {
		values := make([]any, 0, 2*len(msg.Coins))
		for _, r := range msg.Coins {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", r.Symbol, err)
			}
			values = append(values, r.Symbol, data)
		}
		if err := p.client.HSet(ctx, p.cfg.HashKey, values...).Err(); err != nil {
			return fmt.Errorf("hset: %w", err)
		}
	}
	if len(msg.Removed) > 0 {
		if err := p.client.HDel(ctx, p.cfg.HashKey, msg.Removed...).Err(); err != nil {
			return fmt.Errorf("hdel: %w", err)
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := p.client.Publish(ctx, p.cfg.Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	p.published.Add(1)
	return nil
}

// message builds the outgoing message and advances the local mirror used
// to name deleted symbols.
func (p *Publisher) message(c store.Change) (Message, error) {
	msg := Message{Kind: c.Kind.String()}

	if c.Kind == store.ChangeInitial {
		msg.Coins = c.Records
		p.prev = c.Records
		return msg, nil
	}

	for _, idx := range c.Deletions {
		if idx < 0 || idx >= len(p.prev) {
			return msg, store.ErrIndexOutOfRange
		}
		msg.Removed = append(msg.Removed, p.prev[idx].Symbol)
	}
	msg.Deletions = c.Deletions
	msg.Insertions = c.Insertions
	msg.Modifications = c.Modifications
	for _, idx := range c.Insertions {
		msg.Coins = append(msg.Coins, c.Records[idx])
	}
	for _, idx := range c.Modifications {
		msg.Coins = append(msg.Coins, c.Records[idx])
	}

	p.prev = c.Records
	return msg, nil
}
