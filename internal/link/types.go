package link

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	// ErrUnreachable means the dashboard endpoint could not be reached at all.
	ErrUnreachable = errors.New("dashboard unreachable")

	// ErrUnauthorized means the handshake was rejected with 401: the
	// credential is wrong, not the network.
	ErrUnauthorized = errors.New("handshake rejected: unauthorized")

	// ErrForbidden means the handshake was rejected with 403: the credential
	// was accepted but this client is not allowed.
	ErrForbidden = errors.New("handshake rejected: forbidden")

	// ErrHandshake covers all other handshake failures.
	ErrHandshake = errors.New("handshake failed")

	ErrNotConnected   = errors.New("not connected")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrSendFailed     = errors.New("send failed after reconnect retries")
	ErrSessionClosed  = errors.New("session closed")
)

// State is the lifecycle state of the link.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// frameKind classifies inbound WebSocket frames for the listener.
type frameKind int

const (
	frameData frameKind = iota
	frameError
	frameClose
)

// frame is one classified unit read off the socket.
type frame struct {
	kind frameKind
	data []byte
	err  error
}

// Handler consumes decoded dashboard payloads. It is invoked at most once per
// successfully decoded frame; errors and panics are logged by the dispatch
// pool and never propagate back to the listener.
type Handler func(ctx context.Context, c *Client, payload map[string]any) error

// Metrics is an immutable snapshot of connection health counters.
type Metrics struct {
	ConnectAttempts  int64
	ReconnectCycles  int64
	MessagesReceived int64
	LastConnectAt    time.Time
	LastMessageAt    time.Time
	Uptime           time.Duration // zero before the first successful connect
	Connected        bool
}

// Config configures a dashboard link client.
type Config struct {
	Host     string
	Port     int
	Token    string // pre-obtained credential, sent as the Authorization header
	Identity string // User-Id header; a generated UUID when empty
	Secure   bool   // wss when true

	Heartbeat            time.Duration // ping interval
	ReceiveGrace         time.Duration // added to Heartbeat to bound receive waits
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	ShutdownWait       time.Duration // bound on listener shutdown and pool drain
	FrameBuffer        int           // read pump to listener channel capacity
	SendRetries        int           // reconnect-then-retry budget of the send path
	SendStabilizeDelay time.Duration // pause after reconnect before retransmitting

	DialTimeout time.Duration
	KeepAlive   time.Duration
	DNSCacheTTL time.Duration

	DispatchWorkers   int
	DispatchQueueSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Heartbeat:            30 * time.Second,
		ReceiveGrace:         10 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   5 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		ShutdownWait:         5 * time.Second,
		FrameBuffer:          256,
		SendRetries:          2,
		SendStabilizeDelay:   500 * time.Millisecond,
		DialTimeout:          10 * time.Second,
		KeepAlive:            30 * time.Second,
		DNSCacheTTL:          5 * time.Minute,
		DispatchWorkers:      4,
		DispatchQueueSize:    256,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Heartbeat == 0 {
		c.Heartbeat = def.Heartbeat
	}
	if c.ReceiveGrace == 0 {
		c.ReceiveGrace = def.ReceiveGrace
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ShutdownWait == 0 {
		c.ShutdownWait = def.ShutdownWait
	}
	if c.FrameBuffer == 0 {
		c.FrameBuffer = def.FrameBuffer
	}
	if c.SendRetries == 0 {
		c.SendRetries = def.SendRetries
	}
	if c.SendStabilizeDelay == 0 {
		c.SendStabilizeDelay = def.SendStabilizeDelay
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = def.KeepAlive
	}
	if c.DNSCacheTTL == 0 {
		c.DNSCacheTTL = def.DNSCacheTTL
	}
	if c.DispatchWorkers == 0 {
		c.DispatchWorkers = def.DispatchWorkers
	}
	if c.DispatchQueueSize == 0 {
		c.DispatchQueueSize = def.DispatchQueueSize
	}
}
