package runner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/otterscale/connevict/internal/core"
	"github.com/otterscale/connevict/internal/evictor"
	"github.com/otterscale/connevict/internal/providers/httppool"
)

var fastSettings = core.StaticSettings{Interval: 10 * time.Millisecond, MaxIdle: time.Minute}

// countingManager counts sweeps and optionally panics on idle eviction.
type countingManager struct {
	sweeps atomic.Int64
	panic  bool
}

func (m *countingManager) CloseExpiredConnections() {}

func (m *countingManager) CloseIdleConnections(time.Duration) {
	m.sweeps.Add(1)
	if m.panic {
		panic("pool corrupted")
	}
}

func newSweeper(name string, m core.ConnectionManager) *evictor.Evictor {
	return evictor.New(m,
		evictor.WithName(name),
		evictor.WithSettings(fastSettings),
		evictor.WithMeterProvider(noop.NewMeterProvider()),
	)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChecker(t *testing.T) {
	running := newSweeper("http", &countingManager{})
	idle := newSweeper("database", &countingManager{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	running.Start(ctx)
	defer running.Stop()

	c := &checker{sweepers: Sweepers{running, idle}}

	tests := []struct {
		name    string
		service string
		want    grpchealth.Status
		code    connect.Code
	}{
		{name: "process with one sweeper down", service: "", want: grpchealth.StatusNotServing},
		{name: "running sweeper", service: "connevict.v1.http", want: grpchealth.StatusServing},
		{name: "sweeper not started", service: "connevict.v1.database", want: grpchealth.StatusNotServing},
		{name: "unknown service", service: "connevict.v1.redis", code: connect.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := c.Check(context.Background(), &grpchealth.CheckRequest{Service: tt.service})
			if tt.code != 0 {
				if connect.CodeOf(err) != tt.code {
					t.Fatalf("Check error = %v, want code %v", err, tt.code)
				}
				return
			}
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if resp.Status != tt.want {
				t.Errorf("status = %v, want %v", resp.Status, tt.want)
			}
		})
	}
}

func TestChecker_AllRunning(t *testing.T) {
	a := newSweeper("http", &countingManager{})
	b := newSweeper("database", &countingManager{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	b.Start(ctx)
	defer a.Stop()
	defer b.Stop()

	resp, err := (&checker{sweepers: Sweepers{a, b}}).Check(context.Background(), &grpchealth.CheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != grpchealth.StatusServing {
		t.Errorf("status = %v, want SERVING", resp.Status)
	}
}

func TestHandler_Mount(t *testing.T) {
	reg := prometheus.NewRegistry()
	mp, err := newMeterProvider(reg)
	if err != nil {
		t.Fatalf("newMeterProvider: %v", err)
	}
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	sweepers, err := newSweepers(fastSettings, mp, httppool.New(), nil)
	if err != nil {
		t.Fatalf("newSweepers: %v", err)
	}

	mux := http.NewServeMux()
	if err := newHandler(sweepers, reg).Mount(mux); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	if got := healthStatus(t, srv.URL); got != "NOT_SERVING" {
		t.Errorf("health before start = %q, want NOT_SERVING", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, e := range sweepers {
		e.Start(ctx)
		defer e.Stop()
	}

	if got := healthStatus(t, srv.URL); got != "SERVING" {
		t.Errorf("health after start = %q, want SERVING", got)
	}

	waitUntil(t, func() bool {
		return strings.Contains(scrape(t, srv.URL), "connevict_sweeps")
	})
	if body := scrape(t, srv.URL); !strings.Contains(body, "connevict_pool_connections") {
		t.Errorf("metrics missing pool gauge:\n%s", body)
	}
}

func TestRunner_ServeStopsOnCancel(t *testing.T) {
	m := &countingManager{}
	r := NewRunner(nil, Sweepers{newSweeper("http", m)}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.serve(ctx) }()

	waitUntil(t, func() bool { return m.sweeps.Load() > 0 })
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	e := r.sweepers[0]
	if e.State() != core.StateStopped {
		t.Errorf("state = %v, want stopped", e.State())
	}
	if e.Err() != nil {
		t.Errorf("Err = %v, want nil after graceful shutdown", e.Err())
	}
}

func TestRunner_ServeReturnsSweepPanic(t *testing.T) {
	healthy := &countingManager{}
	r := NewRunner(nil, Sweepers{
		newSweeper("http", healthy),
		newSweeper("database", &countingManager{panic: true}),
	}, nil, nil)

	errc := make(chan error, 1)
	go func() { errc <- r.serve(context.Background()) }()

	select {
	case err := <-errc:
		var sweepErr *core.ErrSweepPanic
		if !errors.As(err, &sweepErr) {
			t.Fatalf("serve error = %v, want *core.ErrSweepPanic", err)
		}
		if sweepErr.Operation != "CloseIdleConnections" {
			t.Errorf("Operation = %q, want CloseIdleConnections", sweepErr.Operation)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after sweep panic")
	}

	if s := r.sweepers[0].State(); s != core.StateStopped {
		t.Errorf("healthy sweeper state = %v, want stopped", s)
	}
}

func TestNewAuthMiddleware(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{name: "disabled", cfg: Config{}, want: false},
		{name: "static token", cfg: Config{AuthToken: "s3cret"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := newAuthMiddleware(tt.cfg, nil)
			if err != nil {
				t.Fatalf("newAuthMiddleware: %v", err)
			}
			if got := m != nil; got != tt.want {
				t.Errorf("middleware present = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewAuthMiddleware_OIDCRequiresClientID(t *testing.T) {
	_, err := newAuthMiddleware(Config{OIDCIssuer: "https://issuer.example"}, nil)
	var invalid *core.ErrInvalidInput
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want *core.ErrInvalidInput", err)
	}
	if invalid.Field != "server.oidc_client_id" {
		t.Errorf("Field = %q, want server.oidc_client_id", invalid.Field)
	}
}

func TestRunner_OIDCDiscoveryUsesHTTPPool(t *testing.T) {
	var issuer *httptest.Server
	issuer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   issuer.URL,
			"jwks_uri": issuer.URL + "/keys",
		})
	}))
	defer issuer.Close()

	hp := httppool.New()
	defer hp.Close()
	r := NewRunner(nil, nil, hp, nil)

	m, err := newAuthMiddleware(Config{OIDCIssuer: issuer.URL, OIDCClientID: "connevict"}, r.client())
	if err != nil {
		t.Fatalf("newAuthMiddleware: %v", err)
	}
	if m == nil {
		t.Fatal("middleware = nil, want OIDC")
	}
	if got := hp.Stats(); got.Open != 1 || got.Idle != 1 {
		t.Errorf("pool stats = %+v, want the discovery connection open and idle", got)
	}
}

func TestNewSweepers(t *testing.T) {
	sweepers, err := newSweepers(fastSettings, noop.NewMeterProvider(), httppool.New(), nil)
	if err != nil {
		t.Fatalf("newSweepers: %v", err)
	}
	if len(sweepers) != 1 || sweepers[0].Name() != "http" {
		t.Fatalf("sweepers = %v, want one named http", sweepers)
	}
	if s := sweepers[0].State(); s != core.StateNotStarted {
		t.Errorf("state = %v, want not-started", s)
	}
}

func healthStatus(t *testing.T, baseURL string) string {
	t.Helper()

	resp, err := http.Post(baseURL+"/grpc.health.v1.Health/Check", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health check status = %d", resp.StatusCode)
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	return out.Status
}

func scrape(t *testing.T, baseURL string) string {
	t.Helper()

	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}
