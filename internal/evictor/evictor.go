// Package evictor implements the idle connection evictor: a background
// loop that periodically asks a connection pool to close expired and
// idle connections.
//
// Connections left idle in a pool for too long are usually closed by
// the server end first and linger in CLOSE_WAIT on the client side,
// holding sockets that the OS could otherwise hand out for new
// connections. The evictor closes them before that happens.
package evictor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/otterscale/connevict/internal/core"
)

const (
	// DefaultEvictionInterval is the time between two sweeps when no
	// interval is configured.
	DefaultEvictionInterval = 10 * time.Minute

	// DefaultMaxIdleTime is the maximum time a connection may stay idle
	// in the pool when no threshold is configured.
	DefaultMaxIdleTime = 10 * time.Minute
)

// Option configures an Evictor.
type Option func(*Evictor)

// WithEvictionInterval sets a fixed time between sweeps.
func WithEvictionInterval(d time.Duration) Option {
	return func(e *Evictor) { e.static.Interval = d }
}

// WithMaxIdleTime sets a fixed idle threshold.
func WithMaxIdleTime(d time.Duration) Option {
	return func(e *Evictor) { e.static.MaxIdle = d }
}

// WithSettings supplies the sweep parameters from a provider that is
// consulted at the start of every cycle. It takes precedence over
// WithEvictionInterval and WithMaxIdleTime.
func WithSettings(s core.Settings) Option {
	return func(e *Evictor) { e.settings = s }
}

// WithName sets the name used in logs and metric attributes.
func WithName(name string) Option {
	return func(e *Evictor) { e.name = name }
}

// WithLogger configures a structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(e *Evictor) { e.log = log }
}

// WithMeterProvider configures the OpenTelemetry meter provider.
// Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Evictor) { e.meterProvider = mp }
}

// Evictor runs the sweep loop for a single ConnectionManager. It is
// single-shot: Start runs the loop at most once and Stop is terminal.
type Evictor struct {
	manager  core.ConnectionManager
	settings core.Settings
	static   core.StaticSettings
	name     string
	id       string

	log           *slog.Logger
	meterProvider metric.MeterProvider
	metrics       *instruments

	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	wake     chan struct{} // closed by Stop
	done     chan struct{} // closed when the loop has exited

	mu  sync.Mutex
	err error
}

// New returns an Evictor for manager. The manager is borrowed, not
// owned: the Evictor never closes it.
func New(manager core.ConnectionManager, opts ...Option) *Evictor {
	e := &Evictor{
		manager: manager,
		static: core.StaticSettings{
			Interval: DefaultEvictionInterval,
			MaxIdle:  DefaultMaxIdleTime,
		},
		name: "default",
		id:   uuid.NewString(),
		wake: make(chan struct{}),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.settings == nil {
		e.settings = e.static
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.log = e.log.With("component", "connection-evictor", "evictor", e.name, "evictor_id", e.id)
	if e.meterProvider == nil {
		e.meterProvider = otel.GetMeterProvider()
	}
	e.metrics = newInstruments(e.meterProvider, e.name, e.log)
	return e
}

// Name returns the evictor's name.
func (e *Evictor) Name() string {
	return e.name
}

// Start launches the sweep loop on its own goroutine and returns
// immediately. Cancelling ctx interrupts the loop permanently; use Stop
// for an orderly shutdown. Calling Start more than once, or after Stop,
// has no effect.
func (e *Evictor) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		e.log.Warn("evictor already started or stopped, ignoring start")
		return
	}
	go e.run(ctx)
}

// Stop signals the loop to exit and wakes it if it is waiting for the
// next cycle. It does not wait for an in-flight sweep to finish; use
// Done for that. Stop is safe to call concurrently and more than once.
func (e *Evictor) Stop() {
	e.stopped.Store(true)
	e.stopOnce.Do(func() {
		close(e.wake)
		e.log.Debug("shutdown idle connections evictor")
	})
	// Never started: no loop will close done, so do it here.
	if e.started.CompareAndSwap(false, true) {
		close(e.done)
	}
}

// Done returns a channel that is closed once the loop has exited, or
// once Stop has been called on an evictor that was never started.
func (e *Evictor) Done() <-chan struct{} {
	return e.done
}

// Err returns why the loop ended: nil after Stop, *core.ErrInterrupted
// after its context was cancelled, *core.ErrSweepPanic after a manager
// operation panicked. It is nil while the loop is running.
func (e *Evictor) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// State reports the lifecycle state.
func (e *Evictor) State() core.State {
	select {
	case <-e.done:
		return core.StateStopped
	default:
	}
	if e.started.Load() {
		return core.StateRunning
	}
	return core.StateNotStarted
}

func (e *Evictor) run(ctx context.Context) {
	defer close(e.done)

	e.log.Info("idle connections evictor started",
		"interval", e.interval(),
		"max_idle_time", e.settings.MaxIdleTime(),
	)

	for !e.stopped.Load() {
		if !e.wait(ctx) {
			return
		}
		// Stop may have raced with the timer.
		if e.stopped.Load() {
			return
		}
		if err := e.sweep(ctx); err != nil {
			e.stopped.Store(true)
			e.setErr(err)
			return
		}
	}
}

// wait blocks for one eviction interval. It returns false when the loop
// must exit instead of sweeping.
func (e *Evictor) wait(ctx context.Context) bool {
	timer := time.NewTimer(e.interval())
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-e.wake:
		return false
	case <-ctx.Done():
		e.stopped.Store(true)
		err := &core.ErrInterrupted{Cause: context.Cause(ctx)}
		e.setErr(err)
		e.log.Warn("unable to close expired and idle connections", "error", err)
		return false
	}
}

// sweep runs one cycle: expired connections first, then idle ones.
func (e *Evictor) sweep(ctx context.Context) error {
	start := time.Now()
	maxIdle := e.settings.MaxIdleTime()

	e.log.Debug("closing the expired and idle connections from the pool", "max_idle_time", maxIdle)

	if err := call("CloseExpiredConnections", e.manager.CloseExpiredConnections); err != nil {
		return e.fail(ctx, err)
	}
	if err := call("CloseIdleConnections", func() { e.manager.CloseIdleConnections(maxIdle) }); err != nil {
		return e.fail(ctx, err)
	}

	e.metrics.recordSweep(ctx, time.Since(start))
	return nil
}

func (e *Evictor) fail(ctx context.Context, err *core.ErrSweepPanic) error {
	e.metrics.recordFailure(ctx, err.Operation)
	e.log.Error("eviction loop terminated", "operation", err.Operation, "error", err)
	return err
}

// call runs fn and converts a panic into an *core.ErrSweepPanic.
func call(op string, fn func()) (err *core.ErrSweepPanic) {
	defer func() {
		if r := recover(); r != nil {
			err = &core.ErrSweepPanic{Operation: op, Value: r}
		}
	}()
	fn()
	return nil
}

func (e *Evictor) interval() time.Duration {
	d := e.settings.EvictionInterval()
	if d <= 0 {
		e.log.Warn("non-positive eviction interval, using default",
			"interval", d,
			"default", DefaultEvictionInterval,
		)
		return DefaultEvictionInterval
	}
	return d
}

func (e *Evictor) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err == nil {
		e.err = err
	}
}
