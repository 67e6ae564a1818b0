package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeListener blocks in Start until ctx is done or fail is closed.
type fakeListener struct {
	startErr error
	stopErr  error
	fail     chan struct{}
	hang     bool

	mu      sync.Mutex
	started bool
	stopped bool
}

func newFakeListener() *fakeListener {
	return &fakeListener{fail: make(chan struct{})}
}

func (f *fakeListener) Start(ctx context.Context) error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil
	case <-f.fail:
		return f.startErr
	}
}

func (f *fakeListener) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()

	if f.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.stopErr
}

func (f *fakeListener) state() (started, stopped bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped
}

func TestServe_CancelStopsAll(t *testing.T) {
	a, b := newFakeListener(), newFakeListener()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- Serve(ctx, a, b) }()

	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	for i, l := range []*fakeListener{a, b} {
		if _, stopped := l.state(); !stopped {
			t.Errorf("listener %d was not stopped", i)
		}
	}
}

func TestServe_ListenerFailureStopsOthers(t *testing.T) {
	errBoom := errors.New("boom")
	failing, healthy := newFakeListener(), newFakeListener()
	failing.startErr = errBoom

	errc := make(chan error, 1)
	go func() { errc <- Serve(context.Background(), failing, healthy) }()

	close(failing.fail)

	select {
	case err := <-errc:
		if !errors.Is(err, errBoom) {
			t.Fatalf("Serve error = %v, want %v", err, errBoom)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after listener failure")
	}

	if _, stopped := healthy.state(); !stopped {
		t.Error("healthy listener was not stopped")
	}
}

func TestServe_StopErrorsAreJoined(t *testing.T) {
	errA, errB := errors.New("stop a"), errors.New("stop b")
	a, b := newFakeListener(), newFakeListener()
	a.stopErr, b.stopErr = errA, errB

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Serve(ctx, a, b)
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("Serve error = %v, want both stop errors", err)
	}
}

func TestServe_HangingStopTimesOut(t *testing.T) {
	hanging, next := newFakeListener(), newFakeListener()
	hanging.hang = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := serve(ctx, 20*time.Millisecond, hanging, next)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("serve error = %v, want deadline exceeded", err)
	}
	if _, stopped := next.state(); !stopped {
		t.Error("listener after the hanging one was not stopped")
	}
}
