package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/coin-tracker/internal/api"
	"github.com/rickgao/coin-tracker/internal/version"
)

// Client represents a single WebSocket connection to the price feed.
// A Client is used for one connection; reconnecting creates a new one.
type Client interface {
	// Connect establishes the WebSocket connection. A handshake refused
	// with Retry-After returns *api.ConnectAfterError.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Messages returns a channel of raw frames. It is closed when the
	// connection ends; the reason, if any, is then available on Errors.
	Messages() <-chan TimestampedMessage

	// Errors returns a channel holding the error that ended the connection.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}
	readDone chan struct{}
	wg       sync.WaitGroup
	failMu   sync.Mutex

	// State
	mu         sync.RWMutex
	connected  bool
	lastPingAt time.Time
	closed     bool
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("User-Agent", version.UserAgent())
	if c.cfg.Signer != nil {
		u, err := url.Parse(c.cfg.URL)
		if err != nil {
			return fmt.Errorf("parse url: %w", err)
		}
		if err := c.cfg.Signer.Sign(header, http.MethodGet, u.Path); err != nil {
			return fmt.Errorf("sign handshake: %w", err)
		}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) {
			if after, ok := api.RetryAfterFromResponse(resp, time.Now()); ok {
				after.Cause = fmt.Errorf("handshake status %d: %w", resp.StatusCode, err)
				return after
			}
			if resp != nil {
				return fmt.Errorf("handshake status %d: %w", resp.StatusCode, err)
			}
		}
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastPingAt = time.Now()
	c.mu.Unlock()

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	// Server responds to our ping
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	c.wg.Add(2)
	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	var err error
	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = conn.Close()
	}

	c.wg.Wait()
	return err
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastPingAt = time.Now()
	c.mu.Unlock()
}

// fail records the first error that ends the connection.
// fail records why the connection ended. The first error wins, except that
// a server-requested delay replaces whatever is already queued.
func (c *client) fail(err error) {
	c.failMu.Lock()
	defer c.failMu.Unlock()

	var after *api.ConnectAfterError
	if errors.As(err, &after) {
		select {
		case <-c.errors:
		default:
		}
	}
	select {
	case c.errors <- err:
	default:
	}
}

// readLoop reads frames until the connection ends, then closes messages.
func (c *client) readLoop() {
	defer c.wg.Done()
	defer close(c.readDone)
	defer close(c.messages)
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
			default:
				c.fail(err)
			}
			return
		}

		if bytes.Contains(data, []byte(api.FrameConnectAfter)) {
			if after, ok := connectAfter(data); ok {
				c.logger.Info("server requested reconnect delay", "retry_at", after.RetryAt)
				c.fail(after)
				return
			}
		}

		select {
		case c.messages <- TimestampedMessage{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		}
	}
}

func connectAfter(data []byte) (*api.ConnectAfterError, bool) {
	frame, err := api.ParseFrame(data)
	if err != nil || frame.Type != api.FrameConnectAfter {
		return nil, false
	}
	after, err := frame.ConnectAfter()
	if err != nil {
		return nil, false
	}
	after.Cause = ErrStreamClosed
	return after, true
}

// heartbeatLoop pings the server and ends stale connections.
func (c *client) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.readDone:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			if c.cfg.PingTimeout <= 0 {
				continue
			}

			c.mu.RLock()
			lastPing := c.lastPingAt
			c.mu.RUnlock()

			if time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				c.fail(ErrStaleConnection)
				c.conn.Close()
				return
			}
		}
	}
}
