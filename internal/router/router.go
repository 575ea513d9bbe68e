// Package router turns stream events into price observations for the
// writer. It is the single consumer of the connection manager's events.
package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/coin-tracker/internal/api"
	"github.com/rickgao/coin-tracker/internal/buffer"
	"github.com/rickgao/coin-tracker/internal/connection"
	"github.com/rickgao/coin-tracker/internal/model"
)

// Router parses stream frames and queues observations for the writer.
type Router interface {
	// Start begins routing events from the input channel.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router and closes the output queue.
	Stop(ctx context.Context) error

	// Output returns the observation queue consumed by the writer.
	Output() *buffer.Queue[model.PriceObservation]

	// Stats returns current router statistics.
	Stats() RouterStats
}

// RouterConfig configures the router.
type RouterConfig struct {
	BufferSize int // Initial capacity of the observation queue
}

// DefaultRouterConfig returns sensible defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{BufferSize: 10000}
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	EventsReceived  int64
	Connects        int64
	Disconnects     int64
	Observations    int64
	ParseErrors     int64
	UnknownMessages int64
	Output          buffer.Stats
}

// router is the internal implementation.
type router struct {
	cfg    RouterConfig
	logger *slog.Logger

	input  <-chan connection.Event
	output *buffer.Queue[model.PriceObservation]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	received     atomic.Int64
	connects     atomic.Int64
	disconnects  atomic.Int64
	observations atomic.Int64
	parseErrors  atomic.Int64
	unknown      atomic.Int64
}

// NewRouter creates a new Router reading from input.
func NewRouter(cfg RouterConfig, input <-chan connection.Event, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &router{
		cfg:    cfg,
		logger: logger,
		input:  input,
		output: buffer.New[model.PriceObservation](cfg.BufferSize),
	}
}

// Start begins routing events.
func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("router started", "buffer", r.cfg.BufferSize)
	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping router")

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("router stopped")
	case <-ctx.Done():
		r.logger.Warn("router stop timed out")
	}

	r.output.Close()
	return nil
}

// Output returns the observation queue.
func (r *router) Output() *buffer.Queue[model.PriceObservation] {
	return r.output
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	return RouterStats{
		EventsReceived:  r.received.Load(),
		Connects:        r.connects.Load(),
		Disconnects:     r.disconnects.Load(),
		Observations:    r.observations.Load(),
		ParseErrors:     r.parseErrors.Load(),
		UnknownMessages: r.unknown.Load(),
		Output:          r.output.Stats(),
	}
}

func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.route(ev)
		}
	}
}

func (r *router) route(ev connection.Event) {
	r.received.Add(1)

	switch ev.Type {
	case connection.EventConnected:
		r.connects.Add(1)
		r.logger.Info("price stream up")

	case connection.EventDisconnected:
		r.disconnects.Add(1)
		r.logger.Info("price stream down", "error", ev.Err)

	case connection.EventMessage:
		r.routeFrame(ev)
	}
}

func (r *router) routeFrame(ev connection.Event) {
	frame, err := api.ParseFrame(ev.Data)
	if err != nil {
		r.parseErrors.Add(1)
		r.logger.Warn("failed to parse frame", "error", err)
		return
	}

	switch frame.Type {
	case api.FrameCoinUpdate:
		obs := frame.Coin.Observation(model.SourceStream, ev.ReceivedAt)
		if r.output.Send(obs) {
			r.observations.Add(1)
		}

	case api.FrameConnected:
		r.logger.Debug("feed acknowledged connection")

	default:
		r.unknown.Add(1)
		r.logger.Debug("skipping frame type", "type", frame.Type)
	}
}
