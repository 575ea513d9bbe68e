package connection

import (
	"errors"
	"time"

	"github.com/rickgao/coin-tracker/internal/auth"
)

// Errors
var (
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrStreamClosed    = errors.New("stream closed")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// State is the reconnect policy state.
type State int

const (
	StateDisconnected State = iota
	StateWaitingToRetry
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateWaitingToRetry:
		return "waiting_to_retry"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// EventType identifies a stream event.
type EventType int

const (
	EventConnected EventType = iota + 1
	EventMessage
	EventDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is delivered by the Manager to its single consumer.
type Event struct {
	Type       EventType
	Data       []byte    // EventMessage only
	Err        error     // EventDisconnected only
	ReceivedAt time.Time // Local time the event was produced
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL               string        // WebSocket URL (e.g., ws://localhost:8090/stream)
	Signer            auth.Signer   // Signs the handshake (nil = unsigned)
	HandshakeTimeout  time.Duration // Dial handshake timeout
	PingTimeout       time.Duration // Max time without ping before considering connection stale
	HeartbeatInterval time.Duration // How often to ping and check staleness
	WriteTimeout      time.Duration // Write deadline for control frames
	BufferSize        int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout:  10 * time.Second,
		PingTimeout:       60 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      5 * time.Second,
		BufferSize:        1000,
	}
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	Client      ClientConfig
	EventBuffer int // Buffer size for the output event channel
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:      DefaultClientConfig(),
		EventBuffer: 10000,
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State            State
	RetryAt          time.Time // Zero unless waiting to retry
	Attempts         int64
	Connects         int64
	Disconnects      int64
	Failures         int64 // Unknown connect failures (not retried)
	RetriesScheduled int64
}
