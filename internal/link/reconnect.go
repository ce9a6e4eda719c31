package link

import (
	"context"
	"time"
)

// Reconnect runs one reconnection cycle with exponential backoff. At most one
// cycle runs at a time across all triggers (listener, send path, external
// callers): a call made while another cycle holds the guard waits for it and
// then observes the connected state instead of starting a second cycle.
// Calling on a connected or connecting client is a no-op.
func (c *Client) Reconnect(ctx context.Context) {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.reconnectCycles++
	c.mu.Unlock()

	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		delay := backoffDelay(attempt, c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay)
		c.logger.Info("reconnection attempt scheduled",
			"attempt", attempt,
			"max_attempts", c.cfg.MaxReconnectAttempts,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			c.logger.Info("reconnection cancelled", "error", ctx.Err())
			return
		}

		if err := c.Connect(ctx); err != nil {
			c.logger.Error("reconnection attempt failed", "attempt", attempt, "error", err)
			continue
		}

		if c.IsConnected() {
			c.logger.Info("reconnected", "attempts", attempt)
			return
		}
	}

	c.logger.Error("failed to reconnect", "attempts", c.cfg.MaxReconnectAttempts)
}

// backoffDelay returns min(base * 2^(attempt-1), max).
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		return max
	}
	d := base << uint(attempt-1)
	if d <= 0 || d > max {
		return max
	}
	return d
}
