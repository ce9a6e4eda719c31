package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *AgentConfig) Validate() error {
	if c.Dashboard.Host == "" {
		return errors.New("dashboard.host is required")
	}
	if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port must be between 1 and 65535, got %d", c.Dashboard.Port)
	}
	if c.Dashboard.Token == "" {
		return errors.New("dashboard.token is required")
	}

	if c.Link.Heartbeat <= 0 {
		return errors.New("link.heartbeat must be positive")
	}
	if c.Link.MaxReconnectAttempts < 1 {
		return errors.New("link.max_reconnect_attempts must be >= 1")
	}
	if c.Link.ReconnectBaseDelay <= 0 {
		return errors.New("link.reconnect_base_delay must be positive")
	}
	if c.Link.ReconnectMaxDelay < c.Link.ReconnectBaseDelay {
		return fmt.Errorf("link.reconnect_max_delay (%s) cannot be below reconnect_base_delay (%s)",
			c.Link.ReconnectMaxDelay, c.Link.ReconnectBaseDelay)
	}
	if c.Link.SendRetries < 1 {
		return errors.New("link.send_retries must be >= 1")
	}
	if c.Link.FrameBuffer < 1 {
		return errors.New("link.frame_buffer must be >= 1")
	}

	if c.Dispatch.Workers < 1 {
		return errors.New("dispatch.workers must be >= 1")
	}
	if c.Dispatch.QueueSize < 1 {
		return errors.New("dispatch.queue_size must be >= 1")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}

	return nil
}
