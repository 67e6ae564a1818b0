package http

import (
	"net/http"
	"slices"
	"strings"

	"connectrpc.com/authn"
	connectcors "connectrpc.com/cors"
	"github.com/rs/cors"
)

// corsMaxAge is how long browsers may cache a preflight, in seconds.
const corsMaxAge = 2 * 60 * 60

// publicPaths holds the request paths served without authentication.
type publicPaths map[string]struct{}

func (p publicPaths) add(paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		p[path] = struct{}{}
	}
}

func (p publicPaths) contains(path string) bool {
	_, ok := p[path]
	return ok
}

func (p publicPaths) list() []string {
	out := make([]string, 0, len(p))
	for path := range p {
		out = append(out, path)
	}
	slices.Sort(out)
	return out
}

// authenticate sends public requests straight to next and every other
// request through auth. A nil auth returns next unchanged.
func authenticate(auth *authn.Middleware, public publicPaths, next http.Handler) http.Handler {
	if auth == nil {
		return next
	}
	protected := auth.Wrap(next)
	if len(public) == 0 {
		return protected
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if public.contains(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	})
}

// allowOrigins applies the Connect CORS rules for origins. An empty
// list allows any origin.
func allowOrigins(origins []string, next http.Handler) http.Handler {
	if len(origins) == 0 {
		return cors.AllowAll().Handler(next)
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   connectcors.AllowedMethods(),
		AllowedHeaders:   connectcors.AllowedHeaders(),
		ExposedHeaders:   connectcors.ExposedHeaders(),
		AllowCredentials: true,
		MaxAge:           corsMaxAge,
	}).Handler(next)
}
