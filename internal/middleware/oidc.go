// Package middleware provides authentication middleware for the
// operations server: a static bearer token or OIDC-issued ID tokens.
package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/authn"
	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/otterscale/connevict/internal/core"
)

// Principal is the authenticated caller stored in the request context.
// Retrieve it with authn.GetInfo.
type Principal struct {
	Subject string
}

// NewBearerToken creates a middleware that accepts requests carrying
// exactly the given bearer token.
func NewBearerToken(token string) (*authn.Middleware, error) {
	if token == "" {
		return nil, &core.ErrInvalidInput{Field: "bearer token", Message: "must not be empty"}
	}
	want := []byte(token)

	authenticate := func(_ context.Context, r *http.Request) (any, error) {
		got, found := authn.BearerToken(r)
		if !found || got == "" {
			return nil, authn.Errorf("missing or invalid bearer token")
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			return nil, authn.Errorf("invalid token")
		}
		return Principal{Subject: "token"}, nil
	}

	return authn.NewMiddleware(authenticate), nil
}

// NewOIDC creates a middleware that verifies incoming bearer tokens
// against the given OIDC issuer and client ID. The token subject is
// stored in the request context as a Principal.
//
// Discovery and key set fetches go through client, or
// http.DefaultClient when it is nil.
func NewOIDC(issuer, clientID string, client *http.Client) (*authn.Middleware, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init oidc provider: %w", err)
	}

	return newOIDC(provider.Verifier(&oidc.Config{ClientID: clientID})), nil
}

func newOIDC(verifier *oidc.IDTokenVerifier) *authn.Middleware {
	authenticate := func(ctx context.Context, r *http.Request) (any, error) {
		token, found := authn.BearerToken(r)
		if !found || token == "" {
			return nil, authn.Errorf("missing or invalid bearer token")
		}

		idToken, err := verifier.Verify(ctx, token)
		if err != nil {
			return nil, authn.Errorf("invalid token: %s", err)
		}

		return Principal{Subject: idToken.Subject}, nil
	}

	return authn.NewMiddleware(authenticate)
}
