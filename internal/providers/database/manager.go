// Package database adapts a pgx connection pool to
// core.ConnectionManager. The pool is instrumented through its
// lifecycle hooks so that creation and idle times are known for every
// connection; the sweep closes idle connections by hijacking them out
// of the pool.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// defaultAcquireTimeout bounds how long a sweep waits while collecting
// idle connections from the pool and while the connections it keeps
// return to it.
const defaultAcquireTimeout = 5 * time.Second

// A connection handed back by an earlier sweep can be in flight between
// its release hook and the idle set. A sweep that misses such a
// connection collects again, at most handbackRetries times.
const (
	handbackRetries    = 3
	handbackRetryDelay = 5 * time.Millisecond
)

// Option configures a Manager.
type Option func(*Manager)

// WithMaxLifetime treats idle connections older than d as expired.
// Zero disables the cap.
func WithMaxLifetime(d time.Duration) Option {
	return func(m *Manager) { m.maxLifetime = d }
}

// WithAcquireTimeout bounds the time spent acquiring idle connections
// during a sweep.
func WithAcquireTimeout(d time.Duration) Option {
	return func(m *Manager) { m.acquireTimeout = d }
}

// WithLogger configures a structured logger. Defaults to slog.Default
// with a "component" attribute.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Tracked  int
	Total    int32
	Idle     int32
	Acquired int32
}

// Manager owns a *pgxpool.Pool and implements core.ConnectionManager
// for it.
type Manager struct {
	config         *pgxpool.Config
	pool           atomic.Pointer[pgxpool.Pool]
	maxLifetime    time.Duration
	acquireTimeout time.Duration
	log            *slog.Logger
	now            func() time.Time
	generation     atomic.Uint64

	mu    sync.Mutex
	conns map[*pgx.Conn]*connInfo
}

// connInfo is guarded by Manager.mu.
type connInfo struct {
	createdAt time.Time
	idleSince time.Time
	// handback is set while a sweep hands the connection back so that
	// the release does not reset its idle clock.
	handback *handback
	// returnedBy is the generation of the sweep whose handback last
	// released the connection, zero once it is seen again.
	returnedBy uint64
}

// handback tracks the connections a single sweep returns to the pool.
// pgxpool runs AfterRelease on its own goroutine, so a kept connection
// is only idle again once its hook has run.
type handback struct {
	generation uint64
	pending    sync.WaitGroup
}

// NewFromURL parses connString and returns a Manager for a pool of at
// most maxConns connections. Call Connect before use.
func NewFromURL(connString string, maxConns int32, opts ...Option) (*Manager, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	return New(cfg, opts...), nil
}

// New returns a Manager for a pool built from cfg. The AfterConnect,
// AfterRelease and BeforeClose hooks of cfg are wrapped; hooks already
// present still run first.
func New(cfg *pgxpool.Config, opts ...Option) *Manager {
	m := &Manager{
		config:         cfg,
		acquireTimeout: defaultAcquireTimeout,
		now:            time.Now,
		conns:          make(map[*pgx.Conn]*connInfo),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = slog.Default().With("component", "pgx-pool")
	}
	m.installHooks(cfg)
	return m
}

// Connect creates the pool and verifies it with a ping.
func (m *Manager) Connect(ctx context.Context) error {
	pool, err := pgxpool.NewWithConfig(ctx, m.config)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	m.pool.Store(pool)
	return nil
}

// Pool returns the underlying pool, or nil before Connect.
func (m *Manager) Pool() *pgxpool.Pool {
	return m.pool.Load()
}

// Close closes the pool.
func (m *Manager) Close() {
	if pool := m.pool.Load(); pool != nil {
		pool.Close()
	}
}

// Stats returns pool statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := Stats{Tracked: len(m.conns)}
	m.mu.Unlock()

	if pool := m.pool.Load(); pool != nil {
		st := pool.Stat()
		s.Total = st.TotalConns()
		s.Idle = st.IdleConns()
		s.Acquired = st.AcquiredConns()
	}
	return s
}

// CloseExpiredConnections closes idle connections older than the
// configured max lifetime.
func (m *Manager) CloseExpiredConnections() {
	if m.maxLifetime <= 0 {
		return
	}
	m.sweep("expired", func(info *connInfo, now time.Time) bool {
		return now.Sub(info.createdAt) > m.maxLifetime
	})
}

// CloseIdleConnections closes connections idle for at least
// maxIdleTime. A non-positive value closes every idle connection.
func (m *Manager) CloseIdleConnections(maxIdleTime time.Duration) {
	if maxIdleTime < 0 {
		maxIdleTime = 0
	}
	m.sweep("idle", func(info *connInfo, now time.Time) bool {
		return now.Sub(info.idleSince) >= maxIdleTime
	})
}

// sweep acquires every idle connection, closes those matching pred and
// hands the others back to the pool. It returns once the kept
// connections are idle again, so a following sweep sees all of them.
func (m *Manager) sweep(reason string, pred func(*connInfo, time.Time) bool) {
	pool := m.pool.Load()
	if pool == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.acquireTimeout)
	defer cancel()

	now := m.now()
	hb := &handback{generation: m.generation.Add(1)}
	closing := m.collect(ctx, pool, now, pred, hb)
	for range handbackRetries {
		if !m.inFlight(hb.generation) {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(handbackRetryDelay):
		}
		if ctx.Err() != nil {
			break
		}
		closing = append(closing, m.collect(ctx, pool, now, pred, hb)...)
	}

	for _, conn := range closing {
		if err := conn.Close(ctx); err != nil {
			m.log.Debug("failed to close connection", "reason", reason, "error", err)
		}
	}
	if len(closing) > 0 {
		m.log.Debug("closed connections", "reason", reason, "count", len(closing))
	}

	m.awaitHandback(ctx, reason, hb)
}

// collect takes the idle connections out of pool, hijacking the ones
// matching pred and releasing the rest under hb.
func (m *Manager) collect(ctx context.Context, pool *pgxpool.Pool, now time.Time, pred func(*connInfo, time.Time) bool, hb *handback) []*pgx.Conn {
	var closing []*pgx.Conn
	for _, c := range pool.AcquireAllIdle(ctx) {
		if m.evictable(c.Conn(), now, pred, hb) {
			closing = append(closing, c.Hijack())
			continue
		}
		c.Release()
	}
	return closing
}

// inFlight reports whether a connection released by an earlier sweep
// has not been seen since.
func (m *Manager) inFlight(generation uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, info := range m.conns {
		if info.returnedBy != 0 && info.returnedBy < generation {
			return true
		}
	}
	return false
}

func (m *Manager) awaitHandback(ctx context.Context, reason string, hb *handback) {
	done := make(chan struct{})
	go func() {
		hb.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.log.Debug("connections still returning to the pool", "reason", reason, "error", ctx.Err())
	}
}

// evictable reports whether conn matches pred. A matching connection is
// forgotten; any other is added to hb so its release keeps its idle
// clock.
func (m *Manager) evictable(conn *pgx.Conn, now time.Time, pred func(*connInfo, time.Time) bool, hb *handback) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.conns[conn]
	if !ok {
		return false
	}
	info.returnedBy = 0
	if pred(info, now) {
		delete(m.conns, conn)
		info.settle()
		return true
	}
	info.settle()
	hb.pending.Add(1)
	info.handback = hb
	return false
}

// settle releases the connection from the handback it is pending on.
func (info *connInfo) settle() {
	if info.handback != nil {
		info.handback.pending.Done()
		info.handback = nil
	}
}

func (m *Manager) installHooks(cfg *pgxpool.Config) {
	afterConnect := cfg.AfterConnect
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if afterConnect != nil {
			if err := afterConnect(ctx, conn); err != nil {
				return err
			}
		}
		m.register(conn)
		return nil
	}

	afterRelease := cfg.AfterRelease
	cfg.AfterRelease = func(conn *pgx.Conn) bool {
		if afterRelease != nil && !afterRelease(conn) {
			m.forget(conn)
			return false
		}
		m.released(conn)
		return true
	}

	beforeClose := cfg.BeforeClose
	cfg.BeforeClose = func(conn *pgx.Conn) {
		if beforeClose != nil {
			beforeClose(conn)
		}
		m.forget(conn)
	}
}

func (m *Manager) register(conn *pgx.Conn) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn] = &connInfo{createdAt: now, idleSince: now}
}

func (m *Manager) released(conn *pgx.Conn) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.conns[conn]
	if !ok {
		return
	}
	if hb := info.handback; hb != nil {
		info.returnedBy = hb.generation
		info.settle()
		return
	}
	info.returnedBy = 0
	info.idleSince = now
}

func (m *Manager) forget(conn *pgx.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info, ok := m.conns[conn]; ok {
		info.settle()
		delete(m.conns, conn)
	}
}
