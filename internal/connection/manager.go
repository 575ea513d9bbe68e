package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/coin-tracker/internal/api"
)

// Manager owns the price stream connection and its reconnect policy.
type Manager interface {
	// Start performs the first connect attempt. Connect failures are
	// handled by the policy, not returned.
	Start(ctx context.Context) error

	// Stop cancels any pending retry, closes the connection and closes
	// the event channel.
	Stop(ctx context.Context) error

	// Events returns the channel of stream events for the single consumer.
	Events() <-chan Event

	// State returns the current policy state.
	State() State

	// Stats returns current connection statistics.
	Stats() ManagerStats
}

// DialFunc creates and connects a Client.
type DialFunc func(ctx context.Context) (Client, error)

// ManagerOption configures a Manager.
type ManagerOption func(*manager)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d DialFunc) ManagerOption {
	return func(m *manager) {
		m.dial = d
	}
}

// WithClock replaces the clock that schedules retries.
func WithClock(c Clock) ManagerOption {
	return func(m *manager) {
		m.clock = c
	}
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	dial   DialFunc
	clock  Clock
	logger *slog.Logger

	events chan Event

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closeEvent sync.Once

	mu      sync.Mutex
	state   State
	client  Client
	retry   Timer // At most one pending retry
	retryAt time.Time

	attempts    atomic.Int64
	connects    atomic.Int64
	disconnects atomic.Int64
	failures    atomic.Int64
	retries     atomic.Int64
}

// NewManager creates a new connection Manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...ManagerOption) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultManagerConfig().EventBuffer
	}

	m := &manager{
		cfg:    cfg,
		clock:  realClock{},
		logger: logger,
		events: make(chan Event, cfg.EventBuffer),
	}
	m.dial = m.dialWebSocket

	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *manager) dialWebSocket(ctx context.Context) (Client, error) {
	c := NewClient(m.cfg.Client, m.logger.With("url", m.cfg.Client.URL))
	if err := c.Connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Start begins the connection manager.
func (m *manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.logger.Info("connection manager starting", "url", m.cfg.Client.URL)
	m.connect()
	return nil
}

// Stop gracefully shuts down.
func (m *manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping connection manager")

	if m.cancel != nil {
		m.cancel()
	}

	m.mu.Lock()
	if m.retry != nil {
		if m.retry.Stop() {
			m.wg.Done()
		}
		m.retry = nil
	}
	client := m.client
	m.client = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if client != nil {
		client.Close()
	}

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.closeEvent.Do(func() { close(m.events) })
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, event channel left open")
		return ctx.Err()
	}

	m.logger.Info("connection manager stopped")
	return nil
}

// Events returns the output channel.
func (m *manager) Events() <-chan Event {
	return m.events
}

// State returns the current policy state.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	state, retryAt := m.state, m.retryAt
	m.mu.Unlock()

	if state != StateWaitingToRetry {
		retryAt = time.Time{}
	}

	return ManagerStats{
		State:            state,
		RetryAt:          retryAt,
		Attempts:         m.attempts.Load(),
		Connects:         m.connects.Load(),
		Disconnects:      m.disconnects.Load(),
		Failures:         m.failures.Load(),
		RetriesScheduled: m.retries.Load(),
	}
}

// connect makes one attempt and applies the policy to its outcome.
func (m *manager) connect() {
	if m.ctx.Err() != nil {
		return
	}

	m.attempts.Add(1)
	client, err := m.dial(m.ctx)
	if err != nil {
		m.handleFailure(err)
		return
	}

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		client.Close()
		return
	}
	m.client = client
	m.state = StateConnected
	m.mu.Unlock()

	m.connects.Add(1)
	m.logger.Info("stream connected")
	m.emit(Event{Type: EventConnected, ReceivedAt: m.clock.Now()})

	m.wg.Add(1)
	go m.readLoop(client)
}

func (m *manager) handleFailure(err error) {
	if m.ctx.Err() != nil {
		return
	}

	var after *api.ConnectAfterError
	if errors.As(err, &after) {
		m.scheduleRetry(after.RetryAt)
		return
	}

	m.failures.Add(1)
	m.setState(StateDisconnected)
	m.logger.Error("connect failed, not retrying", "error", err)
}

// scheduleRetry replaces any pending retry with one at retryAt.
func (m *manager) scheduleRetry(retryAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return
	}

	if m.retry != nil {
		if m.retry.Stop() {
			m.wg.Done()
		}
		m.retry = nil
	}

	delay := retryAt.Sub(m.clock.Now())
	if delay < 0 {
		delay = 0
	}

	m.state = StateWaitingToRetry
	m.retryAt = retryAt
	m.retries.Add(1)

	m.logger.Warn("feed asked to retry later",
		"retry_at", retryAt,
		"delay", delay,
	)

	var timer Timer
	m.wg.Add(1)
	timer = m.clock.AfterFunc(delay, func() {
		defer m.wg.Done()

		m.mu.Lock()
		if m.retry != timer {
			// Superseded or stopped
			m.mu.Unlock()
			return
		}
		m.retry = nil
		m.mu.Unlock()

		m.connect()
	})
	m.retry = timer
}

// readLoop forwards frames until the client's message channel closes.
func (m *manager) readLoop(client Client) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case msg, ok := <-client.Messages():
			if !ok {
				m.handleDrop(client)
				return
			}
			m.emit(Event{Type: EventMessage, Data: msg.Data, ReceivedAt: msg.ReceivedAt})
		}
	}
}

// handleDrop reports a lost stream and re-enters the policy.
func (m *manager) handleDrop(client Client) {
	var err error
	select {
	case err = <-client.Errors():
	default:
		err = ErrStreamClosed
	}
	client.Close()

	m.mu.Lock()
	if m.client == client {
		m.client = nil
	}
	m.state = StateDisconnected
	m.mu.Unlock()

	if m.ctx.Err() != nil {
		return
	}

	m.disconnects.Add(1)
	m.logger.Warn("stream disconnected", "error", err)
	m.emit(Event{Type: EventDisconnected, Err: err, ReceivedAt: m.clock.Now()})

	var after *api.ConnectAfterError
	if errors.As(err, &after) {
		m.scheduleRetry(after.RetryAt)
		return
	}
	m.connect()
}

func (m *manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *manager) emit(ev Event) {
	select {
	case m.events <- ev:
	case <-m.ctx.Done():
	}
}
