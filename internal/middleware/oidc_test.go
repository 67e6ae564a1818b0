package middleware

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"connectrpc.com/authn"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"

	"github.com/otterscale/connevict/internal/core"
)

const (
	testIssuer   = "https://issuer.example"
	testClientID = "connevict"
)

// echoSubject writes the authenticated subject as the response body.
var echoSubject = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.GetInfo(r.Context()).(Principal)
	_, _ = w.Write([]byte(p.Subject))
})

func serve(t *testing.T, m *authn.Middleware, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	m.Wrap(echoSubject).ServeHTTP(rec, req)
	return rec
}

func TestNewBearerToken(t *testing.T) {
	t.Parallel()

	m, err := NewBearerToken("s3cret")
	if err != nil {
		t.Fatalf("NewBearerToken() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{name: "matching token", token: "s3cret", want: http.StatusOK},
		{name: "wrong token", token: "guess", want: http.StatusUnauthorized},
		{name: "missing token", token: "", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, m, tt.token)
			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestNewBearerToken_Empty(t *testing.T) {
	t.Parallel()

	_, err := NewBearerToken("")
	var invalid *core.ErrInvalidInput
	if !errors.As(err, &invalid) {
		t.Fatalf("NewBearerToken(\"\") error = %v, want *core.ErrInvalidInput", err)
	}
}

func TestNewOIDC(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}}
	m := newOIDC(oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testClientID}))

	tests := []struct {
		name   string
		claims map[string]any
		want   int
		sub    string
	}{
		{
			name:   "valid token",
			claims: map[string]any{"iss": testIssuer, "aud": testClientID, "sub": "alice", "exp": time.Now().Add(time.Hour).Unix()},
			want:   http.StatusOK,
			sub:    "alice",
		},
		{
			name:   "wrong audience",
			claims: map[string]any{"iss": testIssuer, "aud": "other", "sub": "alice", "exp": time.Now().Add(time.Hour).Unix()},
			want:   http.StatusUnauthorized,
		},
		{
			name:   "expired",
			claims: map[string]any{"iss": testIssuer, "aud": testClientID, "sub": "alice", "exp": time.Now().Add(-time.Hour).Unix()},
			want:   http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, m, signToken(t, key, tt.claims))
			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rec.Code)
			}
			if tt.sub != "" && rec.Body.String() != tt.sub {
				t.Errorf("subject = %q, want %q", rec.Body.String(), tt.sub)
			}
		})
	}

	t.Run("missing token", func(t *testing.T) {
		if rec := serve(t, m, ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
		}
	})
}

// countingTransport counts the requests it forwards.
type countingTransport struct {
	requests atomic.Int64
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.requests.Add(1)
	return http.DefaultTransport.RoundTrip(req)
}

// newIssuer serves a discovery document and a key set for key.
func newIssuer(t *testing.T, key *rsa.PrivateKey) *httptest.Server {
	t.Helper()

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":   srv.URL,
			"jwks_uri": srv.URL + "/keys",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       key.Public(),
			KeyID:     "test",
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}}})
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewOIDC_UsesClient(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	issuer := newIssuer(t, key)
	transport := &countingTransport{}

	m, err := NewOIDC(issuer.URL, testClientID, &http.Client{Transport: transport})
	if err != nil {
		t.Fatalf("NewOIDC() error = %v", err)
	}
	if got := transport.requests.Load(); got != 1 {
		t.Fatalf("requests after discovery = %d, want 1", got)
	}

	token := signToken(t, key, map[string]any{
		"iss": issuer.URL,
		"aud": testClientID,
		"sub": "bob",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	rec := serve(t, m, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if rec.Body.String() != "bob" {
		t.Errorf("subject = %q, want bob", rec.Body.String())
	}
	if got := transport.requests.Load(); got != 2 {
		t.Errorf("requests after verification = %d, want 2", got)
	}
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims map[string]any) string {
	t.Helper()

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	token, err := sig.CompactSerialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return token
}
