package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/veldora/dashlink/internal/dispatch"
	"github.com/veldora/dashlink/internal/version"
)

// wsConn is the subset of *websocket.Conn the client uses. Narrowed to an
// interface so teardown and send faults can be injected in tests.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client maintains the single logical control-plane link to the dashboard.
// Exactly one connect attempt, one listener, and one reconnection cycle can
// be in flight at any time.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	handler Handler
	pool    *dispatch.Pool[map[string]any]

	url    string
	header http.Header

	// reconnectMu serializes reconnection cycles. Held for the full cycle,
	// backoff sleeps included, so the listener and the send path cannot race
	// overlapping cycles.
	reconnectMu sync.Mutex

	// writeMu serializes socket writes.
	writeMu sync.Mutex

	mu          sync.Mutex
	state       State
	connectDone chan struct{} // closed when the in-flight connect resolves
	conn        wsConn
	connClosed  bool
	sess        *session
	listenStop  chan struct{}
	listenDone  chan struct{}
	runCtx      context.Context

	connectAttempts  int64
	reconnectCycles  int64
	messagesReceived int64
	lastConnectAt    time.Time
	lastMessageAt    time.Time
}

// New builds a client for the given dashboard. A nil handler drops decoded
// payloads after metrics accounting; a nil logger falls back to the default.
func New(cfg Config, handler Handler, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Identity == "" {
		cfg.Identity = uuid.NewString()
	}

	scheme := "ws"
	if cfg.Secure {
		scheme = "wss"
	}

	header := http.Header{}
	header.Set("Authorization", cfg.Token)
	header.Set("User-Id", cfg.Identity)
	header.Set("Client-Version", version.Version)
	header.Set("User-Agent", "dashlink/"+version.Version)

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		handler: handler,
		url:     fmt.Sprintf("%s://%s/ws_bot", scheme, net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))),
		header:  header,
		runCtx:  context.Background(),
	}
	c.pool = dispatch.NewPool(cfg.DispatchWorkers, cfg.DispatchQueueSize, logger, c.dispatchPayload)
	return c
}

func (c *Client) dispatchPayload(ctx context.Context, payload map[string]any) error {
	if c.handler == nil {
		return nil
	}
	return c.handler(ctx, c, payload)
}

// Connect establishes the link. A concurrent call while an attempt is in
// flight blocks until that attempt resolves and returns nil; the caller
// observes the outcome through IsConnected. Connecting an already connected
// client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting:
		done := c.connectDone
		c.mu.Unlock()
		c.logger.Debug("connect already in progress, waiting")
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case StateConnected:
		c.mu.Unlock()
		c.logger.Debug("already connected")
		return nil
	}

	c.state = StateConnecting
	done := make(chan struct{})
	c.connectDone = done
	c.connectAttempts++
	attempt := c.connectAttempts
	c.runCtx = ctx

	// Tear down leftovers of a previous connection before dialing.
	staleConn := c.conn
	c.conn = nil
	c.connClosed = true
	staleStop := c.listenStop
	c.listenStop = nil
	c.listenDone = nil

	if c.sess == nil || c.sess.Closed() {
		c.sess = newSession(c.cfg)
	}
	sess := c.sess
	c.mu.Unlock()

	if staleStop != nil {
		close(staleStop)
	}
	if staleConn != nil {
		staleConn.Close()
	}

	resolved := false
	// The Connecting state never outlives the attempt, and waiters are
	// always released, whichever path this returns on.
	defer func() {
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateDisconnected
		}
		if !resolved {
			close(done)
		}
		c.mu.Unlock()
	}()

	c.logger.Info("connecting to dashboard", "url", c.url, "attempt", attempt)

	conn, resp, err := sess.dial(ctx, c.url, c.header)
	if err != nil {
		err = classifyDialError(err, resp, c.cfg.Host, c.cfg.Port)
		c.logger.Error("connect failed", "error", err)
		return err
	}

	frames := make(chan frame, c.cfg.FrameBuffer)
	stop := make(chan struct{})
	ldone := make(chan struct{})

	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnect raced the handshake; drop the fresh socket.
		c.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	}
	c.conn = conn
	c.connClosed = false
	c.listenStop = stop
	c.listenDone = ldone
	c.state = StateConnected
	c.lastConnectAt = time.Now()
	resolved = true
	close(done)
	c.mu.Unlock()

	c.pool.Start(ctx)
	go c.readPump(conn, frames, stop)
	go c.pingLoop(conn, stop)
	go c.listen(frames, stop, ldone)

	c.logger.Info("connected to dashboard", "attempt", attempt, "identity", c.cfg.Identity)
	return nil
}

// Disconnect tears the link down: state first (so the listener loop observes
// it), then listener, socket, session, and connector, each step independently
// guarded so a failing close cannot skip the ones after it. Safe to call
// repeatedly.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	alreadyDown := c.state == StateDisconnected && c.conn == nil && c.sess == nil
	c.state = StateDisconnected
	conn := c.conn
	c.conn = nil
	c.connClosed = true
	sess := c.sess
	c.sess = nil
	stop := c.listenStop
	c.listenStop = nil
	ldone := c.listenDone
	c.listenDone = nil
	c.mu.Unlock()

	if alreadyDown {
		return nil
	}

	c.logger.Info("disconnecting from dashboard")

	if stop != nil {
		close(stop)
	}
	if ldone != nil {
		select {
		case <-ldone:
		case <-time.After(c.cfg.ShutdownWait):
			c.logger.Warn("listener did not stop within shutdown wait")
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownWait)
	c.pool.Stop(stopCtx)
	cancel()

	var errs []error
	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteTimeout),
		)
		if err := conn.Close(); err != nil {
			c.logger.Warn("error closing socket", "error", err)
			errs = append(errs, err)
		}
	}
	if sess != nil {
		if err := sess.Close(); err != nil {
			c.logger.Warn("error closing session", "error", err)
			errs = append(errs, err)
		}
		if err := sess.connector.Close(); err != nil {
			c.logger.Warn("error closing connector", "error", err)
			errs = append(errs, err)
		}
	}

	c.logger.Info("disconnected from dashboard")
	return errors.Join(errs...)
}

// WithConnection connects, runs fn, and always disconnects, even when fn
// returns early with an error.
func (c *Client) WithConnection(ctx context.Context, fn func(*Client) error) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect()
	return fn(c)
}

// IsConnected reports the composite connectivity predicate. The state flag
// alone is not authoritative after partial failures, so the socket and the
// session handles are checked too.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedLocked()
}

func (c *Client) connectedLocked() bool {
	return c.state == StateConnected &&
		c.conn != nil && !c.connClosed &&
		c.sess != nil && !c.sess.Closed()
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Metrics returns a snapshot of the connection health counters.
func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := Metrics{
		ConnectAttempts:  c.connectAttempts,
		ReconnectCycles:  c.reconnectCycles,
		MessagesReceived: c.messagesReceived,
		LastConnectAt:    c.lastConnectAt,
		LastMessageAt:    c.lastMessageAt,
		Connected:        c.connectedLocked(),
	}
	if !c.lastConnectAt.IsZero() {
		m.Uptime = time.Since(c.lastConnectAt)
	}
	return m
}

// readPump reads frames off the socket and classifies them for the listener.
// It owns the frames channel and closes it when the socket read fails.
func (c *Client) readPump(conn wsConn, frames chan<- frame, stop <-chan struct{}) {
	defer close(frames)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			// Reads failing after a local close are not reportable events.
			select {
			case <-stop:
				return
			default:
			}

			c.markSocketClosed()

			kind := frameError
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				kind = frameClose
			}

			select {
			case frames <- frame{kind: kind, err: err}:
			case <-stop:
			}
			return
		}

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		select {
		case frames <- frame{kind: frameData, data: data}:
		case <-stop:
			return
		}
	}
}

// pingLoop keeps the heartbeat alive from our side.
func (c *Client) pingLoop(conn wsConn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

func (c *Client) markSocketClosed() {
	c.mu.Lock()
	c.connClosed = true
	c.mu.Unlock()
}

// classifyDialError maps a handshake failure to one of the tagged error
// variants: unreachable, unauthorized, forbidden, or other-transport.
func classifyDialError(err error, resp *http.Response, host string, port int) error {
	if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: credential rejected by %s:%d", ErrUnauthorized, host, port)
		case http.StatusForbidden:
			return fmt.Errorf("%w: access denied by %s:%d", ErrForbidden, host, port)
		default:
			return fmt.Errorf("%w: status %d from %s:%d", ErrHandshake, resp.StatusCode, host, port)
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %s:%d: %v", ErrUnreachable, host, port, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s:%d: %v", ErrUnreachable, host, port, err)
	}

	return fmt.Errorf("%w: %v", ErrHandshake, err)
}
