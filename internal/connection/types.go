package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	ErrNotStarted       = errors.New("manager not started")
)

// State is the connection lifecycle state. Transitions are the only source of
// truth for whether the client is usable right now.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// Frame type tags on the stream protocol. Every frame carries
// {"type": ..., "timestamp": ISO8601}.
const (
	TypePing        = "ping"
	TypePong        = "pong"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"

	// Full-replace messages carry every topic field.
	TypeInitialData  = "initial_data"
	TypeMarketUpdate = "market_update"

	// Per-topic delta messages patch a single field.
	TypeHeatmapDelta = "heatmap_delta"
	TypeIndicesDelta = "indices_delta"
	TypeSectorsDelta = "sectors_delta"
	TypeMoversDelta  = "movers_delta"
	TypePulseDelta   = "pulse_delta"
)

// OutboundFrame is a client→server message.
type OutboundFrame struct {
	Type            string   `json:"type"`
	Subscriptions   []string `json:"subscriptions,omitempty"`
	Unsubscriptions []string `json:"unsubscriptions,omitempty"`
	Timestamp       string   `json:"timestamp"`
}

// NewFrame builds an outbound frame with the current timestamp.
func NewFrame(frameType string) OutboundFrame {
	return OutboundFrame{
		Type:      frameType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// inboundEnvelope is the minimal shape shared by all server→client messages.
type inboundEnvelope struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// StreamMessage is a parsed data message handed to the merge coordinator.
// Pong frames are consumed internally and never appear here.
type StreamMessage struct {
	Type       string
	Timestamp  time.Time
	Data       json.RawMessage
	ReceivedAt time.Time
}

// TimestampedMessage wraps raw transport bytes with a receive timestamp.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// Stats is the observable connection state exposed to consumers. It is
// rebuilt on every relevant transition and never mutated in place.
type Stats struct {
	Connected       bool      `json:"isConnected"`
	State           State     `json:"state"`
	LastMessageAt   time.Time `json:"lastMessageAt"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
	Attempts        int       `json:"connectionAttempts"`
	QueueDepth      int       `json:"queuedMessages"`
	QueueDropped    int64     `json:"queueDropped"`
	Subscriptions   []string  `json:"subscriptions"`
}

// TransportConfig configures a single WebSocket transport.
type TransportConfig struct {
	URL          string        // WebSocket URL
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Inbound message channel buffer size
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// ManagerConfig configures the connection Manager.
type ManagerConfig struct {
	URL                  string        // WebSocket URL
	ReconnectBaseDelay   time.Duration // Base backoff delay
	ReconnectMaxDelay    time.Duration // Backoff ceiling (pre-jitter)
	MaxReconnectAttempts int           // Attempt ceiling before surfacing a terminal error
	HeartbeatInterval    time.Duration // Interval between ping frames
	HeartbeatTimeout     time.Duration // Max wait for a pong after a ping
	HeartbeatEnabled     bool          // Liveness probing on/off
	QueueEnabled         bool          // Outbound queueing while disconnected on/off
	QueueLimit           int           // Max queued frames; oldest dropped beyond this
	WriteTimeout         time.Duration // Transport write deadline
	BufferSize           int           // Transport inbound buffer size
	InboundBufferSize    int           // Parsed stream message buffer size
	Subscriptions        []string      // Initial subscription topics
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     10 * time.Second,
		HeartbeatEnabled:     true,
		QueueEnabled:         true,
		QueueLimit:           1000,
		WriteTimeout:         5 * time.Second,
		BufferSize:           1000,
		InboundBufferSize:    1000,
	}
}
