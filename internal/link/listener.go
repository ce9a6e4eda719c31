package link

import (
	"encoding/json"
	"time"
)

// listen drains classified frames until the connection ends. Receive waits
// are bounded by heartbeat plus a grace period so a dead peer is noticed
// even without a close frame. Any exit other than explicit cancellation while the link was
// still up hands off to the reconnection coordinator.
func (c *Client) listen(frames <-chan frame, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	c.logger.Info("message listener started")

	timeout := c.cfg.Heartbeat + c.cfg.ReceiveGrace
	cancelled := false

loop:
	for c.State() == StateConnected {
		select {
		case <-stop:
			c.logger.Info("message listener cancelled")
			cancelled = true
			break loop

		case fr, ok := <-frames:
			if !ok {
				c.logger.Info("frame stream ended")
				break loop
			}
			switch fr.kind {
			case frameData:
				c.handleData(fr.data)
			case frameError:
				c.logger.Error("websocket error", "error", fr.err)
				break loop
			case frameClose:
				c.logger.Info("connection closed by dashboard", "error", fr.err)
				break loop
			}

		case <-time.After(timeout):
			c.logger.Warn("receive timeout, checking connection health")
			if !c.IsConnected() {
				break loop
			}
		}
	}

	if cancelled {
		return
	}

	// The frame channel closing can win the select against an already-closed
	// stop channel. A closed stop is still a cancellation: a newer connection
	// may own the state by now, and this listener must not touch it.
	select {
	case <-stop:
		return
	default:
	}

	c.mu.Lock()
	wasConnected := c.state == StateConnected
	if wasConnected {
		c.state = StateDisconnected
		c.connClosed = true
	}
	ctx := c.runCtx
	c.mu.Unlock()

	if wasConnected {
		c.logger.Info("message listener ended, scheduling reconnection")
		go c.Reconnect(ctx)
	}
}

// handleData decodes one data frame and hands it to the dispatch pool.
// Decode failures are logged and skipped; they never end the listener.
func (c *Client) handleData(data []byte) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Error("failed to decode payload", "error", err)
		return
	}

	c.mu.Lock()
	c.messagesReceived++
	c.lastMessageAt = time.Now()
	c.mu.Unlock()

	if !c.pool.Submit(payload) {
		c.logger.Warn("dispatch queue full, dropping payload")
	}
}
