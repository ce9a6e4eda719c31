package link

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// mockWSServer starts a test HTTP server running the given handler for the
// /ws_bot endpoint.
func mockWSServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// echoHandler upgrades and discards inbound frames until the peer goes away.
func echoHandler(t *testing.T) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

// testConfig builds a client config pointed at the test server, with timings
// scaled down for tests.
func testConfig(t *testing.T, server *httptest.Server) Config {
	t.Helper()

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split server host: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}

	return Config{
		Host:                 host,
		Port:                 port,
		Token:                "test-token",
		Identity:             "test-agent",
		Heartbeat:            250 * time.Millisecond,
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   20 * time.Millisecond,
		ReconnectMaxDelay:    100 * time.Millisecond,
		HandshakeTimeout:     2 * time.Second,
		WriteTimeout:         time.Second,
		ShutdownWait:         time.Second,
		SendStabilizeDelay:   10 * time.Millisecond,
		DialTimeout:          2 * time.Second,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// faultyConn is a wsConn that fails on demand, for exercising teardown and
// send error paths.
type faultyConn struct {
	writeErr error
	closeErr error

	mu     sync.Mutex
	closed chan struct{}
}

func newFaultyConn(writeErr, closeErr error) *faultyConn {
	return &faultyConn{
		writeErr: writeErr,
		closeErr: closeErr,
		closed:   make(chan struct{}),
	}
}

func (f *faultyConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, net.ErrClosed
}

func (f *faultyConn) WriteMessage(messageType int, data []byte) error {
	return f.writeErr
}

func (f *faultyConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func (f *faultyConn) SetWriteDeadline(t time.Time) error { return nil }

func (f *faultyConn) Close() error {
	f.mu.Lock()
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	f.mu.Unlock()
	return f.closeErr
}

func TestConnectDisconnect(t *testing.T) {
	server := mockWSServer(t, echoHandler(t))
	client := New(testConfig(t, server), nil, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected = false after Connect")
	}
	if got := client.State(); got != StateConnected {
		t.Errorf("State = %s, want connected", got)
	}

	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected = true after Disconnect")
	}
	if got := client.State(); got != StateDisconnected {
		t.Errorf("State = %s, want disconnected", got)
	}
}

func TestConnectIdempotent(t *testing.T) {
	server := mockWSServer(t, echoHandler(t))
	client := New(testConfig(t, server), nil, nil)
	defer client.Disconnect()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	if got := client.Metrics().ConnectAttempts; got != 1 {
		t.Errorf("ConnectAttempts = %d, want 1", got)
	}
}

func TestConnectWaitsForInflightAttempt(t *testing.T) {
	release := make(chan struct{})
	server := mockWSServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		echoHandler(t)(w, r)
	})
	client := New(testConfig(t, server), nil, nil)
	defer client.Disconnect()

	errs := make(chan error, 2)
	go func() { errs <- client.Connect(context.Background()) }()

	waitFor(t, time.Second, func() bool {
		return client.State() == StateConnecting
	}, "first attempt never entered connecting state")

	go func() { errs <- client.Connect(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if err != nil {
				t.Fatalf("Connect: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("Connect did not return")
		}
	}

	if !client.IsConnected() {
		t.Error("IsConnected = false")
	}
	if got := client.Metrics().ConnectAttempts; got != 1 {
		t.Errorf("ConnectAttempts = %d, want 1 (second call should wait, not dial)", got)
	}
}

func TestConnectUnauthorized(t *testing.T) {
	server := mockWSServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	})
	client := New(testConfig(t, server), nil, nil)

	err := client.Connect(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Connect error = %v, want ErrUnauthorized", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected = true after rejected handshake")
	}
	if got := client.State(); got != StateDisconnected {
		t.Errorf("State = %s, want disconnected", got)
	}
}

func TestConnectForbidden(t *testing.T) {
	server := mockWSServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not allowed", http.StatusForbidden)
	})
	client := New(testConfig(t, server), nil, nil)

	err := client.Connect(context.Background())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("Connect error = %v, want ErrForbidden", err)
	}
}

func TestConnectRefused(t *testing.T) {
	// Grab a port that nothing listens on.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	cfg := Config{
		Host:        "127.0.0.1",
		Port:        port,
		Token:       "test-token",
		DialTimeout: time.Second,
	}
	client := New(cfg, nil, nil)

	err = client.Connect(context.Background())
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("Connect error = %v, want ErrUnreachable", err)
	}
}

func TestConnectSendsHandshakeHeaders(t *testing.T) {
	var (
		mu   sync.Mutex
		auth string
		uid  string
		cver string
	)
	server := mockWSServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = r.Header.Get("Authorization")
		uid = r.Header.Get("User-Id")
		cver = r.Header.Get("Client-Version")
		mu.Unlock()
		echoHandler(t)(w, r)
	})
	client := New(testConfig(t, server), nil, nil)
	defer client.Disconnect()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if auth != "test-token" {
		t.Errorf("Authorization = %q, want test-token", auth)
	}
	if uid != "test-agent" {
		t.Errorf("User-Id = %q, want test-agent", uid)
	}
	if cver == "" {
		t.Error("Client-Version header missing")
	}
}

func TestConnectGeneratesIdentity(t *testing.T) {
	server := mockWSServer(t, echoHandler(t))
	cfg := testConfig(t, server)
	cfg.Identity = ""
	client := New(cfg, nil, nil)

	if client.cfg.Identity == "" {
		t.Error("identity was not generated")
	}
}

func TestDisconnectFaultTolerant(t *testing.T) {
	server := mockWSServer(t, echoHandler(t))
	client := New(testConfig(t, server), nil, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Inject a socket whose close fails; the session and connector must
	// still be torn down.
	closeErr := errors.New("close failed")
	client.mu.Lock()
	real := client.conn
	client.conn = newFaultyConn(nil, closeErr)
	sess := client.sess
	client.mu.Unlock()
	defer real.Close()

	err := client.Disconnect()
	if !errors.Is(err, closeErr) {
		t.Fatalf("Disconnect error = %v, want the socket close error", err)
	}
	if !sess.Closed() {
		t.Error("session not closed after faulty socket close")
	}
	if !sess.connector.Closed() {
		t.Error("connector not closed after faulty socket close")
	}
	if client.IsConnected() {
		t.Error("IsConnected = true after Disconnect")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	server := mockWSServer(t, echoHandler(t))
	client := New(testConfig(t, server), nil, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := client.Disconnect(); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := client.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
}

func TestWithConnection(t *testing.T) {
	server := mockWSServer(t, echoHandler(t))
	client := New(testConfig(t, server), nil, nil)

	var sawConnected bool
	err := client.WithConnection(context.Background(), func(c *Client) error {
		sawConnected = c.IsConnected()
		return nil
	})
	if err != nil {
		t.Fatalf("WithConnection: %v", err)
	}
	if !sawConnected {
		t.Error("fn did not observe a connected client")
	}
	if client.IsConnected() {
		t.Error("IsConnected = true after WithConnection returned")
	}
}

func TestWithConnectionDisconnectsOnError(t *testing.T) {
	server := mockWSServer(t, echoHandler(t))
	client := New(testConfig(t, server), nil, nil)

	wantErr := errors.New("handler failed")
	err := client.WithConnection(context.Background(), func(c *Client) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithConnection error = %v, want %v", err, wantErr)
	}
	if client.IsConnected() {
		t.Error("IsConnected = true after fn error")
	}
}

func TestMetrics(t *testing.T) {
	server := mockWSServer(t, echoHandler(t))
	client := New(testConfig(t, server), nil, nil)
	defer client.Disconnect()

	m := client.Metrics()
	if m.Uptime != 0 {
		t.Errorf("Uptime = %s before first connect, want 0", m.Uptime)
	}
	if m.Connected {
		t.Error("Connected = true before connect")
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	m = client.Metrics()
	if !m.Connected {
		t.Error("Connected = false after connect")
	}
	if m.ConnectAttempts != 1 {
		t.Errorf("ConnectAttempts = %d, want 1", m.ConnectAttempts)
	}
	if m.Uptime <= 0 {
		t.Errorf("Uptime = %s, want > 0", m.Uptime)
	}
	if m.LastConnectAt.IsZero() {
		t.Error("LastConnectAt is zero after connect")
	}
}

func TestClassifyDialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		resp *http.Response
		want error
	}{
		{
			name: "401",
			err:  websocket.ErrBadHandshake,
			resp: &http.Response{StatusCode: http.StatusUnauthorized},
			want: ErrUnauthorized,
		},
		{
			name: "403",
			err:  websocket.ErrBadHandshake,
			resp: &http.Response{StatusCode: http.StatusForbidden},
			want: ErrForbidden,
		},
		{
			name: "500",
			err:  websocket.ErrBadHandshake,
			resp: &http.Response{StatusCode: http.StatusInternalServerError},
			want: ErrHandshake,
		},
		{
			name: "dns failure",
			err:  &net.DNSError{Err: "no such host", Name: "dash.invalid"},
			want: ErrUnreachable,
		},
		{
			name: "connection refused",
			err:  &net.OpError{Op: "dial", Err: errors.New("connection refused")},
			want: ErrUnreachable,
		},
		{
			name: "timeout",
			err:  context.DeadlineExceeded,
			want: ErrUnreachable,
		},
		{
			name: "other",
			err:  errors.New("tls oddity"),
			want: ErrHandshake,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyDialError(tt.err, tt.resp, "dash.example.com", 443)
			if !errors.Is(got, tt.want) {
				t.Errorf("classifyDialError = %v, want %v", got, tt.want)
			}
		})
	}
}
