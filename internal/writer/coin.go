package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/coin-tracker/internal/buffer"
	"github.com/rickgao/coin-tracker/internal/model"
	"github.com/rickgao/coin-tracker/internal/store"
)

// CoinWriter consumes observations from the router queue and merges them
// into the store.
type CoinWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the router and poller
	input *buffer.Queue[model.PriceObservation]

	store *store.Store

	// Batching
	batch       []model.PriceObservation
	batchMu     sync.Mutex
	flushMu     sync.Mutex // Keeps batches in order
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Loop flushes run under writeCtx so Stop never aborts a write in progress.
	writeCtx context.Context

	errCh   chan error
	errOnce sync.Once
	failed  chan struct{}

	metrics WriterMetrics
}

// NewCoinWriter creates a new CoinWriter.
func NewCoinWriter(
	cfg WriterConfig,
	input *buffer.Queue[model.PriceObservation],
	st *store.Store,
	logger *slog.Logger,
) *CoinWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &CoinWriter{
		cfg:    cfg,
		input:  input,
		store:  st,
		logger: logger,
		batch:  make([]model.PriceObservation, 0, cfg.BatchSize),
		errCh:  make(chan error, 1),
		failed: make(chan struct{}),
	}
}

// Start begins consuming observations.
func (w *CoinWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.writeCtx = context.WithoutCancel(w.ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("coin writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains what is already queued, flushes, and shuts down.
func (w *CoinWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping coin writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("coin writer stop timed out")
		return ctx.Err()
	}

	// Final drain and flush
	if !w.hasFailed() {
		for _, obs := range w.input.DrainTo(0) {
			w.add(obs)
		}
		if err := w.flush(ctx); err != nil {
			return err
		}
	}

	w.logger.Info("coin writer stopped")
	return nil
}

// Err delivers the first fatal store write error.
func (w *CoinWriter) Err() <-chan error {
	return w.errCh
}

// Stats returns current metrics.
func (w *CoinWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input queue and accumulates batches.
func (w *CoinWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.failed:
			return
		default:
		}

		obs, ok := w.input.TryReceive()
		if !ok {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		if w.add(obs) {
			w.flush(w.writeCtx)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *CoinWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.failed:
			return
		case <-w.flushTicker.C:
			w.flush(w.writeCtx)
		}
	}
}

// add appends obs and reports whether the batch is full.
func (w *CoinWriter) add(obs model.PriceObservation) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, obs)
	return len(w.batch) >= w.cfg.BatchSize
}

// flush merges the current batch in one store write.
func (w *CoinWriter) flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	if w.hasFailed() {
		return nil
	}

	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}
	batch := w.batch
	w.batch = make([]model.PriceObservation, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()
	var inserts, updates, unchanged int64

	err := w.store.Write(ctx, func(tx *store.Tx) error {
		inserts, updates, unchanged = 0, 0, 0
		for _, obs := range batch {
			res, err := Merge(tx, obs)
			if err != nil {
				return fmt.Errorf("merge %s: %w", obs.Symbol, err)
			}
			switch res {
			case MergeInserted:
				inserts++
			case MergeUpdated:
				updates++
			default:
				unchanged++
			}
		}
		return nil
	})
	if err != nil {
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()

		w.logger.Error("store write failed", "error", err, "count", len(batch))
		w.fail(err)
		return err
	}

	w.batchMu.Lock()
	w.metrics.Observations += int64(len(batch))
	w.metrics.Inserts += inserts
	w.metrics.Updates += updates
	w.metrics.Unchanged += unchanged
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed observations",
		"count", len(batch),
		"inserts", inserts,
		"updates", updates,
		"duration", time.Since(start),
	)
	return nil
}

func (w *CoinWriter) fail(err error) {
	w.errOnce.Do(func() {
		w.errCh <- fmt.Errorf("coin writer: %w", err)
		close(w.failed)
	})
}

func (w *CoinWriter) hasFailed() bool {
	select {
	case <-w.failed:
		return true
	default:
		return false
	}
}
