package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/coin-tracker/internal/api"
	"github.com/rickgao/coin-tracker/internal/buffer"
	"github.com/rickgao/coin-tracker/internal/model"
)

// CoinSource fetches the full coin list.
type CoinSource interface {
	GetAllCoins(ctx context.Context) ([]api.Coin, error)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Refresh interval, 0 fetches once (default: 5m)
	Timeout  time.Duration // Per-request timeout (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		Timeout:  30 * time.Second,
	}
}

// Stats reports poller activity.
type Stats struct {
	Polls        int64
	Failures     int64
	Skipped      int64 // Ticks skipped because of a retry-after
	Observations int64
	RetryAt      time.Time
}

// Poller fetches all coins and feeds them to the writer queue.
type Poller struct {
	cfg    Config
	source CoinSource
	output *buffer.Queue[model.PriceObservation]
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	retryAt time.Time

	polls        atomic.Int64
	failures     atomic.Int64
	skipped      atomic.Int64
	observations atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, source CoinSource, output *buffer.Queue[model.PriceObservation], logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Poller{
		cfg:    cfg,
		source: source,
		output: output,
		logger: logger,
		now:    time.Now,
	}
}

// Start begins the polling loop. The first fetch runs immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("coin poller started", "interval", p.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("coin poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	retryAt := p.retryAt
	p.mu.Unlock()

	return Stats{
		Polls:        p.polls.Load(),
		Failures:     p.failures.Load(),
		Skipped:      p.skipped.Load(),
		Observations: p.observations.Load(),
		RetryAt:      retryAt,
	}
}

func (p *Poller) run() {
	defer p.wg.Done()

	p.poll()

	if p.cfg.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll runs one full fetch unless a retry-after is still in effect.
func (p *Poller) poll() {
	p.mu.Lock()
	retryAt := p.retryAt
	p.mu.Unlock()

	if !retryAt.IsZero() && p.now().Before(retryAt) {
		p.skipped.Add(1)
		p.logger.Debug("skipping poll until retry time", "retry_at", retryAt)
		return
	}

	start := time.Now()
	n, err := p.fetch()
	p.polls.Add(1)
	if err != nil {
		p.failures.Add(1)

		var ca *api.ConnectAfterError
		if errors.As(err, &ca) {
			p.mu.Lock()
			p.retryAt = ca.RetryAt
			p.mu.Unlock()
			p.logger.Warn("coin fetch deferred", "retry_at", ca.RetryAt, "error", err)
			return
		}
		if p.ctx.Err() == nil {
			p.logger.Error("coin fetch failed", "error", err)
		}
		return
	}

	p.logger.Info("coin fetch complete",
		"coins", n,
		"duration", time.Since(start),
	)
}

func (p *Poller) fetch() (int, error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	coins, err := p.source.GetAllCoins(ctx)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	p.retryAt = time.Time{}
	p.mu.Unlock()

	at := p.now()
	for _, c := range coins {
		if !p.output.Send(c.Observation(model.SourceREST, at)) {
			return 0, buffer.ErrClosed
		}
		p.observations.Add(1)
	}
	return len(coins), nil
}
