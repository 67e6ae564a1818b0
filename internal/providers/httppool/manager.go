// Package httppool adapts a net/http client transport to
// core.ConnectionManager. net/http only offers "close every idle
// connection", so the manager tracks each dialed connection itself:
// when it was created, whether a request is using it, since when it has
// been idle and until when the server promised to keep it alive.
package httppool

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Option configures a Manager.
type Option func(*Manager)

// WithTransport uses t instead of a clone of http.DefaultTransport. The
// transport's dial functions are wrapped in place, so t should not be
// shared with clients that bypass the Manager.
func WithTransport(t *http.Transport) Option {
	return func(m *Manager) { m.transport = t }
}

// WithMaxLifetime caps the age of a connection. Idle connections older
// than d are treated as expired. Zero disables the cap.
func WithMaxLifetime(d time.Duration) Option {
	return func(m *Manager) { m.maxLifetime = d }
}

// WithLogger configures a structured logger. Defaults to slog.Default
// with a "component" attribute.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// Stats is a point-in-time view of the tracked connections.
type Stats struct {
	Open int
	Idle int
}

// Manager is an http.RoundTripper that tracks the connections of its
// transport and implements core.ConnectionManager on top of them.
type Manager struct {
	transport   *http.Transport
	maxLifetime time.Duration
	log         *slog.Logger
	now         func() time.Time

	mu    sync.Mutex
	conns map[*trackedConn]struct{}
}

// New returns a Manager. Use Client, or the Manager itself as an
// http.RoundTripper, for requests whose connections should be swept.
func New(opts ...Option) *Manager {
	m := &Manager{
		now:   time.Now,
		conns: make(map[*trackedConn]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.transport == nil {
		m.transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	if m.log == nil {
		m.log = slog.Default().With("component", "http-pool")
	}

	dial := m.transport.DialContext
	if dial == nil {
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		dial = dialer.DialContext
	}
	m.transport.DialContext = m.wrapDial(dial)
	if m.transport.DialTLSContext != nil {
		m.transport.DialTLSContext = m.wrapDial(m.transport.DialTLSContext)
	}

	return m
}

// Client returns an *http.Client that sends requests through m.
func (m *Manager) Client() *http.Client {
	return &http.Client{Transport: m}
}

// Close closes every idle connection of the underlying transport.
func (m *Manager) Close() {
	m.transport.CloseIdleConnections()
}

// Stats returns the number of tracked and idle connections.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Open: len(m.conns)}
	for c := range m.conns {
		if c.active == 0 {
			s.Idle++
		}
	}
	return s
}

// RoundTrip implements http.RoundTripper. A connection counts as in
// use from the moment the transport hands it to the request until the
// response body is closed or fully read.
func (m *Manager) RoundTrip(req *http.Request) (*http.Response, error) {
	var (
		mu   sync.Mutex
		conn *trackedConn
	)
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			c := lookup(info.Conn)
			if c != nil {
				m.acquire(c)
			}
			mu.Lock()
			prev := conn
			conn = c
			mu.Unlock()
			// The transport retried the request on another connection.
			if prev != nil {
				m.release(prev)
			}
		},
	}

	resp, err := m.transport.RoundTrip(req.WithContext(httptrace.WithClientTrace(req.Context(), trace)))

	mu.Lock()
	c := conn
	mu.Unlock()

	if c == nil {
		return resp, err
	}
	if err != nil {
		m.release(c)
		return nil, err
	}

	if timeout, ok := keepAliveTimeout(resp.Header); ok {
		m.setKeepAlive(c, timeout)
	}

	// Upgraded connections belong to the caller from now on.
	if resp.StatusCode == http.StatusSwitchingProtocols {
		m.forget(c)
		return resp, nil
	}

	// Bodiless responses such as HEAD or 204 are never closed by callers.
	if resp.Body == nil || resp.Body == http.NoBody {
		m.release(c)
		return resp, nil
	}

	resp.Body = &trackedBody{ReadCloser: resp.Body, release: func() { m.release(c) }}
	return resp, nil
}

// CloseExpiredConnections closes idle connections whose keep-alive
// deadline has passed or whose age exceeds the configured lifetime.
func (m *Manager) CloseExpiredConnections() {
	now := m.now()
	closing := m.collect(func(c *trackedConn) bool {
		if !c.keepAliveUntil.IsZero() && now.After(c.keepAliveUntil) {
			return true
		}
		return m.maxLifetime > 0 && now.Sub(c.createdAt) > m.maxLifetime
	})
	m.closeAll("expired", closing)
}

// CloseIdleConnections closes connections that have been idle for at
// least maxIdleTime. A non-positive value closes every idle connection.
func (m *Manager) CloseIdleConnections(maxIdleTime time.Duration) {
	if maxIdleTime < 0 {
		maxIdleTime = 0
	}
	now := m.now()
	closing := m.collect(func(c *trackedConn) bool {
		return now.Sub(c.idleSince) >= maxIdleTime
	})
	m.closeAll("idle", closing)
}

// collect removes and returns the idle connections matching pred. A
// connection the transport hands out between collect and Close fails
// its request; the transport retries replayable requests on a fresh
// connection.
func (m *Manager) collect(pred func(*trackedConn) bool) []*trackedConn {
	m.mu.Lock()
	defer m.mu.Unlock()

	var closing []*trackedConn
	for c := range m.conns {
		if c.active == 0 && pred(c) {
			closing = append(closing, c)
			delete(m.conns, c)
		}
	}
	return closing
}

func (m *Manager) closeAll(reason string, closing []*trackedConn) {
	for _, c := range closing {
		if err := c.Close(); err != nil {
			m.log.Debug("failed to close connection", "reason", reason, "remote", c.RemoteAddr(), "error", err)
		}
	}
	if len(closing) > 0 {
		m.log.Debug("closed connections", "reason", reason, "count", len(closing))
	}
}

func (m *Manager) wrapDial(dial func(ctx context.Context, network, addr string) (net.Conn, error)) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return m.track(conn), nil
	}
}

func (m *Manager) track(conn net.Conn) *trackedConn {
	now := m.now()
	c := &trackedConn{
		Conn:      conn,
		manager:   m,
		createdAt: now,
		idleSince: now,
	}

	m.mu.Lock()
	m.conns[c] = struct{}{}
	m.mu.Unlock()

	return c
}

func (m *Manager) forget(c *trackedConn) {
	m.mu.Lock()
	delete(m.conns, c)
	m.mu.Unlock()
}

func (m *Manager) acquire(c *trackedConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.active++
}

func (m *Manager) release(c *trackedConn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.active == 0 {
		return
	}
	c.active--
	if c.active == 0 {
		now := m.now()
		c.idleSince = now
		if c.keepAlive > 0 {
			c.keepAliveUntil = now.Add(c.keepAlive)
		}
	}
}

func (m *Manager) setKeepAlive(c *trackedConn, timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.keepAlive = timeout
}

// trackedConn is a dialed connection known to the Manager. Fields below
// createdAt are guarded by manager.mu.
type trackedConn struct {
	net.Conn
	manager   *Manager
	createdAt time.Time

	active         int
	idleSince      time.Time
	keepAlive      time.Duration
	keepAliveUntil time.Time

	closeOnce sync.Once
	closeErr  error
}

func (c *trackedConn) Close() error {
	c.closeOnce.Do(func() {
		c.manager.forget(c)
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}

// lookup finds the trackedConn behind conn, unwrapping TLS.
func lookup(conn net.Conn) *trackedConn {
	for conn != nil {
		if c, ok := conn.(*trackedConn); ok {
			return c
		}
		nc, ok := conn.(interface{ NetConn() net.Conn })
		if !ok {
			return nil
		}
		conn = nc.NetConn()
	}
	return nil
}

// trackedBody releases its connection on EOF or Close, whichever
// comes first.
type trackedBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == io.EOF {
		b.once.Do(b.release)
	}
	return n, err
}

func (b *trackedBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}

// keepAliveTimeout parses the timeout parameter of a Keep-Alive
// response header ("timeout=5, max=100").
func keepAliveTimeout(h http.Header) (time.Duration, bool) {
	for _, v := range h.Values("Keep-Alive") {
		for _, part := range strings.Split(v, ",") {
			name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(name), "timeout") {
				continue
			}
			secs, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || secs < 0 {
				continue
			}
			return time.Duration(secs) * time.Second, true
		}
	}
	return 0, false
}
