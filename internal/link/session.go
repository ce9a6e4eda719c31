package link

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// connector owns the pooled dial resources behind a session: a net.Dialer
// with TCP keep-alive and a TTL-bounded DNS cache consulted before each dial.
type connector struct {
	dialer net.Dialer
	ttl    time.Duration

	// lookup is swappable in tests.
	lookup func(ctx context.Context, host string) ([]string, error)

	mu     sync.Mutex
	cache  map[string]dnsEntry
	closed bool
}

type dnsEntry struct {
	addrs   []string
	expires time.Time
}

func newConnector(cfg Config) *connector {
	return &connector{
		dialer: net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		},
		ttl: cfg.DNSCacheTTL,
		lookup: func(ctx context.Context, host string) ([]string, error) {
			return net.DefaultResolver.LookupHost(ctx, host)
		},
		cache: make(map[string]dnsEntry),
	}
}

// DialContext resolves through the cache and dials the first reachable
// address.
func (cn *connector) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return nil, ErrSessionClosed
	}
	cn.mu.Unlock()

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	// Literal addresses bypass the cache.
	if ip := net.ParseIP(host); ip != nil {
		return cn.dialer.DialContext(ctx, network, addr)
	}

	addrs, err := cn.resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, a := range addrs {
		conn, err := cn.dialer.DialContext(ctx, network, net.JoinHostPort(a, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (cn *connector) resolve(ctx context.Context, host string) ([]string, error) {
	now := time.Now()

	cn.mu.Lock()
	if e, ok := cn.cache[host]; ok && now.Before(e.expires) {
		addrs := e.addrs
		cn.mu.Unlock()
		return addrs, nil
	}
	cn.mu.Unlock()

	addrs, err := cn.lookup(ctx, host)
	if err != nil {
		return nil, err
	}

	cn.mu.Lock()
	if !cn.closed {
		cn.cache[host] = dnsEntry{addrs: addrs, expires: now.Add(cn.ttl)}
	}
	cn.mu.Unlock()

	return addrs, nil
}

// Close marks the connector unusable and drops the DNS cache.
func (cn *connector) Close() error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	cn.closed = true
	cn.cache = nil
	return nil
}

// Closed reports whether Close has been called.
func (cn *connector) Closed() bool {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.closed
}

// session wraps a connector into a websocket dialer with handshake timeout
// and per-message compression. Sessions are replaced, not mutated, across
// reconnects.
type session struct {
	connector *connector
	dialer    *websocket.Dialer

	mu     sync.Mutex
	closed bool
}

func newSession(cfg Config) *session {
	cn := newConnector(cfg)
	return &session{
		connector: cn,
		dialer: &websocket.Dialer{
			NetDialContext:    cn.DialContext,
			HandshakeTimeout:  cfg.HandshakeTimeout,
			EnableCompression: true,
		},
	}
}

func (s *session) dial(ctx context.Context, url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrSessionClosed
	}
	s.mu.Unlock()

	return s.dialer.DialContext(ctx, url, header)
}

// Close marks the session unusable. The connector is closed separately.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
