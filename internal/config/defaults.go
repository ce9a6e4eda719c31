package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHeartbeat            = 30 * time.Second
	DefaultReceiveGrace         = 10 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBaseDelay   = 5 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultShutdownWait         = 5 * time.Second
	DefaultFrameBuffer          = 256
	DefaultSendRetries          = 2
	DefaultSendStabilizeDelay   = 500 * time.Millisecond
	DefaultDialTimeout          = 10 * time.Second
	DefaultKeepAlive            = 30 * time.Second
	DefaultDNSCacheTTL          = 5 * time.Minute
	DefaultDispatchWorkers      = 4
	DefaultDispatchQueueSize    = 256
	DefaultLogLevel             = "info"
)

func (c *AgentConfig) applyDefaults() {
	// Link defaults
	if c.Link.Heartbeat == 0 {
		c.Link.Heartbeat = DefaultHeartbeat
	}
	if c.Link.ReceiveGrace == 0 {
		c.Link.ReceiveGrace = DefaultReceiveGrace
	}
	if c.Link.MaxReconnectAttempts == 0 {
		c.Link.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Link.ReconnectBaseDelay == 0 {
		c.Link.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Link.ReconnectMaxDelay == 0 {
		c.Link.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Link.HandshakeTimeout == 0 {
		c.Link.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Link.WriteTimeout == 0 {
		c.Link.WriteTimeout = DefaultWriteTimeout
	}
	if c.Link.ShutdownWait == 0 {
		c.Link.ShutdownWait = DefaultShutdownWait
	}
	if c.Link.FrameBuffer == 0 {
		c.Link.FrameBuffer = DefaultFrameBuffer
	}
	if c.Link.SendRetries == 0 {
		c.Link.SendRetries = DefaultSendRetries
	}
	if c.Link.SendStabilizeDelay == 0 {
		c.Link.SendStabilizeDelay = DefaultSendStabilizeDelay
	}
	if c.Link.DialTimeout == 0 {
		c.Link.DialTimeout = DefaultDialTimeout
	}
	if c.Link.KeepAlive == 0 {
		c.Link.KeepAlive = DefaultKeepAlive
	}
	if c.Link.DNSCacheTTL == 0 {
		c.Link.DNSCacheTTL = DefaultDNSCacheTTL
	}

	// Dispatch defaults
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = DefaultDispatchWorkers
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = DefaultDispatchQueueSize
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
}
