package icon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/coin-tracker/internal/model"
	"github.com/rickgao/coin-tracker/internal/store"
)

// Prefetcher warms the icon cache from the store's change stream. Inserted
// and modified rows load their icon into the row's slot, so a coin whose
// icon URL changes drops the stale load.
type Prefetcher struct {
	loader *Loader
	store  *store.Store
	logger *slog.Logger

	sub *store.Subscription

	loaded atomic.Int64
	failed atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // run loop
	loads  sync.WaitGroup // in-flight loads
}

// NewPrefetcher creates a Prefetcher.
func NewPrefetcher(loader *Loader, st *store.Store, logger *slog.Logger) *Prefetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prefetcher{loader: loader, store: st, logger: logger}
}

// Start subscribes to the store.
func (p *Prefetcher) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.sub = p.store.Subscribe()

	p.wg.Add(1)
	go p.run()

	p.logger.Info("icon prefetcher started")
	return nil
}

// Stop unsubscribes and cancels outstanding loads.
func (p *Prefetcher) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.sub != nil {
		p.sub.Close()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.loads.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("icon prefetcher stopped",
			"loaded", p.loaded.Load(),
			"failed", p.failed.Load(),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Prefetcher) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case c, ok := <-p.sub.C:
			if !ok {
				return
			}
			p.handle(c)
		}
	}
}

func (p *Prefetcher) handle(c store.Change) {
	switch c.Kind {
	case store.ChangeInitial:
		for _, r := range c.Records {
			p.load(r)
		}
	case store.ChangeUpdate:
		for _, idx := range c.Insertions {
			p.load(c.Records[idx])
		}
		for _, idx := range c.Modifications {
			p.load(c.Records[idx])
		}
	case store.ChangeError:
		p.logger.Warn("store change stream ended", "error", c.Err)
	}
}

// load starts a slot load unless the icon is cached or already loading.
func (p *Prefetcher) load(r model.CoinRecord) {
	if r.IconURL == "" {
		p.loader.Cancel(r.Symbol)
		return
	}
	if _, ok := p.loader.Cached(r.IconURL); ok {
		return
	}
	if url, ok := p.loader.Pending(r.Symbol); ok && url == r.IconURL {
		return
	}

	symbol, url := r.Symbol, r.IconURL
	p.loads.Add(1)
	p.loader.LoadAsync(p.ctx, symbol, url, func(_ Icon, err error) {
		defer p.loads.Done()
		switch {
		case err == nil:
			p.loaded.Add(1)
		case errors.Is(err, ErrSuperseded), errors.Is(err, context.Canceled):
		default:
			p.failed.Add(1)
			p.logger.Warn("icon load failed", "symbol", symbol, "url", url, "error", err)
		}
	})
}

// Stats returns loads completed and failed.
func (p *Prefetcher) Stats() (loaded, failed int64) {
	return p.loaded.Load(), p.failed.Load()
}
