// Package runner runs the connection sweepers of the process next to
// the operations server until the context is cancelled.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	nethttp "net/http"

	"connectrpc.com/authn"

	"github.com/otterscale/connevict/internal/core"
	"github.com/otterscale/connevict/internal/evictor"
	"github.com/otterscale/connevict/internal/middleware"
	"github.com/otterscale/connevict/internal/providers/database"
	"github.com/otterscale/connevict/internal/providers/httppool"
	"github.com/otterscale/connevict/internal/transport"
	"github.com/otterscale/connevict/internal/transport/http"
)

// Config holds the runtime parameters of the operations server.
type Config struct {
	Address        string
	AllowedOrigins []string
	AuthToken      string
	OIDCIssuer     string
	OIDCClientID   string
	PublicMetrics  bool
}

// Runner serves the sweepers and the operations server.
type Runner struct {
	handler  *Handler
	sweepers Sweepers
	http     *httppool.Manager
	database *database.Manager
}

// NewRunner returns a Runner. Outbound requests of the process, such as
// OIDC discovery, use the pool of hp. Either manager may be nil.
func NewRunner(handler *Handler, sweepers Sweepers, hp *httppool.Manager, db *database.Manager) *Runner {
	return &Runner{
		handler:  handler,
		sweepers: sweepers,
		http:     hp,
		database: db,
	}
}

// Run connects the database pool, if any, then blocks serving the
// sweepers and the operations server until ctx is cancelled or one of
// them fails. Health endpoints are public, and so is /metrics when
// cfg.PublicMetrics is set.
func (r *Runner) Run(ctx context.Context, cfg Config) error {
	if r.database != nil {
		if err := r.database.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect database: %w", err)
		}
	}

	auth, err := newAuthMiddleware(cfg, r.client())
	if err != nil {
		return fmt.Errorf("failed to create auth middleware: %w", err)
	}

	httpSrv, err := http.NewServer(
		http.WithAddress(cfg.Address),
		http.WithAllowedOrigins(cfg.AllowedOrigins),
		http.WithAuthMiddleware(auth),
		http.WithPublicHealth(),
		http.WithPublicMetrics(cfg.PublicMetrics),
		http.WithMount(r.handler.Mount),
	)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	return r.serve(ctx, httpSrv)
}

func (r *Runner) serve(ctx context.Context, lis ...transport.Listener) error {
	names := make([]string, 0, len(r.sweepers))
	for _, e := range r.sweepers {
		lis = append(lis, evictor.NewListener(e))
		names = append(names, e.Name())
	}
	slog.Info("starting connection sweepers", "sweepers", names)

	return transport.Serve(ctx, lis...)
}

// client returns an HTTP client backed by the swept pool, or nil.
func (r *Runner) client() *nethttp.Client {
	if r.http == nil {
		return nil
	}
	return r.http.Client()
}

// newAuthMiddleware prefers OIDC over the static token. It returns nil
// when neither is configured.
func newAuthMiddleware(cfg Config, client *nethttp.Client) (*authn.Middleware, error) {
	switch {
	case cfg.OIDCIssuer != "" && cfg.OIDCClientID == "":
		return nil, &core.ErrInvalidInput{Field: "server.oidc_client_id", Message: "required when server.oidc_issuer is set"}
	case cfg.OIDCIssuer != "":
		return middleware.NewOIDC(cfg.OIDCIssuer, cfg.OIDCClientID, client)
	case cfg.AuthToken != "":
		return middleware.NewBearerToken(cfg.AuthToken)
	default:
		return nil, nil
	}
}
