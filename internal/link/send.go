package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// Send serializes payload and transmits it over the link. A nil payload is
// caller misuse and fails without touching the transport. A known-down link
// fails fast with ErrNotConnected and does not trigger a reconnect.
// Reset-class transport failures fall back to reconnect-then-retry; other
// failures are reported immediately.
func (c *Client) Send(ctx context.Context, payload map[string]any) error {
	if payload == nil {
		return ErrInvalidPayload
	}
	if !c.IsConnected() {
		c.logger.Warn("cannot send, link is down")
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	err = c.write(data)
	if err == nil {
		return nil
	}

	if isResetError(err) {
		c.logger.Warn("connection lost during send, attempting recovery", "error", err)
		c.markLinkDown()
		return c.resendAfterReconnect(ctx, data)
	}

	c.logger.Error("send failed", "error", err)
	return fmt.Errorf("send: %w", err)
}

// write pushes one text frame, serialized against concurrent writers.
func (c *Client) write(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// markLinkDown flips the state after an observed transport failure so the
// coordinator and the listener agree the link is gone and neither triggers a
// duplicate recovery.
func (c *Client) markLinkDown() {
	c.mu.Lock()
	if c.state == StateConnected {
		c.state = StateDisconnected
	}
	c.connClosed = true
	c.mu.Unlock()
}

// resendAfterReconnect retries transmission after driving the reconnection
// coordinator. The retry budget here is independent of the coordinator's own
// attempt budget.
func (c *Client) resendAfterReconnect(ctx context.Context, data []byte) error {
	for retry := 1; retry <= c.cfg.SendRetries; retry++ {
		c.Reconnect(ctx)

		if !c.IsConnected() {
			continue
		}

		// Brief pause for connection stability before retransmitting.
		select {
		case <-time.After(c.cfg.SendStabilizeDelay):
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := c.write(data); err != nil {
			c.logger.Error("retransmission failed", "retry", retry, "error", err)
			continue
		}

		c.logger.Debug("retransmitted after reconnection", "retry", retry)
		return nil
	}

	c.logger.Error("failed to send after reconnection attempts")
	return ErrSendFailed
}

// isResetError reports whether err looks like a connection reset that a
// reconnect can recover from.
func isResetError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
	)
}
