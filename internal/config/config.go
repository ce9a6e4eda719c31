package config

import (
	"log/slog"
	"strings"
	"time"
)

// AgentConfig is the root configuration for a dashlink agent.
type AgentConfig struct {
	Dashboard DashboardConfig `yaml:"dashboard"`
	Link      LinkConfig      `yaml:"link"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DashboardConfig identifies the remote dashboard endpoint.
type DashboardConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Token    string `yaml:"token"`    // pre-obtained credential, sent as Authorization
	Identity string `yaml:"identity"` // User-Id header; generated when empty
	Secure   bool   `yaml:"secure"`   // wss when true
}

// LinkConfig holds connection lifecycle settings.
type LinkConfig struct {
	Heartbeat            time.Duration `yaml:"heartbeat"`
	ReceiveGrace         time.Duration `yaml:"receive_grace"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	ShutdownWait         time.Duration `yaml:"shutdown_wait"`
	FrameBuffer          int           `yaml:"frame_buffer"`
	SendRetries          int           `yaml:"send_retries"`
	SendStabilizeDelay   time.Duration `yaml:"send_stabilize_delay"`
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	KeepAlive            time.Duration `yaml:"keep_alive"`
	DNSCacheTTL          time.Duration `yaml:"dns_cache_ttl"`
}

// DispatchConfig holds handler worker pool settings.
type DispatchConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// LoggingConfig controls the agent's structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// SlogLevel maps the configured level name to a slog level. Unknown names
// fall back to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
