// Package http serves the operations endpoints of connevict (gRPC
// health, reflection and Prometheus metrics) over HTTP/1.1 and h2c.
// The Server implements transport.Listener.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"connectrpc.com/authn"
	"connectrpc.com/grpchealth"

	"github.com/otterscale/connevict/internal/core"
)

// MetricsPath is the Prometheus scrape endpoint.
const MetricsPath = "/metrics"

const (
	defaultAddress = ":9090"

	readHeaderTimeout = 5 * time.Second
	requestTimeout    = 30 * time.Second
	maxHeaderBytes    = 8 << 10
)

// HealthPaths returns the gRPC health procedures.
func HealthPaths() []string {
	return []string{
		"/" + grpchealth.HealthV1ServiceName + "/Check",
		"/" + grpchealth.HealthV1ServiceName + "/Watch",
	}
}

// MountFunc registers the operations handlers on mux.
type MountFunc func(mux *http.ServeMux) error

// Server serves the operations endpoints behind CORS and, when
// configured, authentication.
type Server struct {
	inner          *http.Server
	address        string
	listener       net.Listener
	mount          MountFunc
	auth           *authn.Middleware
	public         publicPaths
	allowedOrigins []string
	log            *slog.Logger
}

// NewServer builds the handler chain and binds the listener, so a bad
// address fails before the sweepers start. Authentication requires
// explicit allowed origins.
func NewServer(opts ...ServerOption) (*Server, error) {
	s := &Server{
		address: defaultAddress,
		public:  publicPaths{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default().With("component", "ops-server")
	}
	if s.auth != nil && len(s.allowedOrigins) == 0 {
		return nil, &core.ErrInvalidInput{
			Field:   "server.allowed_origins",
			Message: "required when authentication is enabled (--allowed-origins or CONNEVICT_SERVER_ALLOWED_ORIGINS)",
		}
	}

	mux := http.NewServeMux()
	if s.mount != nil {
		if err := s.mount(mux); err != nil {
			return nil, fmt.Errorf("mount operations handlers: %w", err)
		}
	}

	if s.listener == nil {
		ln, err := net.Listen("tcp", s.address)
		if err != nil {
			return nil, fmt.Errorf("listen on %q: %w", s.address, err)
		}
		s.listener = ln
	}

	protocols := new(http.Protocols)
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)

	s.inner = &http.Server{
		Addr:              s.address,
		Handler:           allowOrigins(s.allowedOrigins, authenticate(s.auth, s.public, mux)),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       requestTimeout,
		WriteTimeout:      requestTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
		Protocols:         protocols,
	}
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Handler returns the complete handler chain.
func (s *Server) Handler() http.Handler {
	return s.inner.Handler
}

// Start serves until Stop is called or serving fails.
func (s *Server) Start(ctx context.Context) error {
	s.inner.BaseContext = func(net.Listener) context.Context {
		return ctx
	}

	s.log.Info("serving operations endpoints",
		"address", s.listener.Addr().String(),
		"auth", s.auth != nil,
		"public_paths", s.public.list(),
	)

	err := s.inner.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("serve operations endpoints: %w", err)
}

// Stop drains in-flight requests until ctx expires, then closes every
// connection.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("stopping operations endpoints")

	err := s.inner.Shutdown(ctx)
	if err == nil {
		return nil
	}
	s.log.Warn("drain interrupted, closing connections", "error", err)
	return s.inner.Close()
}
