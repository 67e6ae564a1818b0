package evictor

import (
	"context"
	"fmt"
)

// Listener adapts an Evictor to the transport.Listener interface so it
// participates in the managed lifecycle alongside the ops server.
type Listener struct {
	evictor *Evictor
}

// NewListener returns a Listener for e.
func NewListener(e *Evictor) *Listener {
	return &Listener{evictor: e}
}

// Start runs the evictor and blocks until ctx is cancelled or the
// evictor exits on its own. The evictor is detached from ctx so that a
// graceful shutdown goes through Stop rather than being reported as an
// interruption. An evictor that ends with an error (a panicking pool
// operation) makes Start return that error.
func (l *Listener) Start(ctx context.Context) error {
	l.evictor.Start(context.WithoutCancel(ctx))

	select {
	case <-ctx.Done():
		return nil
	case <-l.evictor.Done():
		if err := l.evictor.Err(); err != nil {
			return fmt.Errorf("evictor %q: %w", l.evictor.Name(), err)
		}
		return nil
	}
}

// Stop stops the evictor and waits for its loop to exit, or for ctx to
// expire when a pool operation hangs.
func (l *Listener) Stop(ctx context.Context) error {
	l.evictor.Stop()

	select {
	case <-l.evictor.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop evictor %q: %w", l.evictor.Name(), ctx.Err())
	}
}
