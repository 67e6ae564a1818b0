package http

import (
	"log/slog"
	"net"

	"connectrpc.com/authn"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddress sets the listen address. Defaults to ":9090".
func WithAddress(address string) ServerOption {
	return func(s *Server) { s.address = address }
}

// WithListener serves on ln instead of listening on the address.
func WithListener(ln net.Listener) ServerOption {
	return func(s *Server) { s.listener = ln }
}

// WithMount sets the function registering the operations handlers.
func WithMount(mount MountFunc) ServerOption {
	return func(s *Server) { s.mount = mount }
}

// WithAuthMiddleware protects every non-public path with m. A nil m
// leaves the server open.
func WithAuthMiddleware(m *authn.Middleware) ServerOption {
	return func(s *Server) { s.auth = m }
}

// WithPublicPaths exempts paths from authentication.
func WithPublicPaths(paths ...string) ServerOption {
	return func(s *Server) { s.public.add(paths...) }
}

// WithPublicHealth exempts the gRPC health procedures from
// authentication, so health checkers need no credentials.
func WithPublicHealth() ServerOption {
	return WithPublicPaths(HealthPaths()...)
}

// WithPublicMetrics exempts the scrape endpoint from authentication
// when public is true.
func WithPublicMetrics(public bool) ServerOption {
	if !public {
		return func(*Server) {}
	}
	return WithPublicPaths(MetricsPath)
}

// WithAllowedOrigins sets the origins allowed by CORS.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithHTTPLogger sets the logger. Defaults to slog.Default with a
// "component" attribute.
func WithHTTPLogger(log *slog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}
