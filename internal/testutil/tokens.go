package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-claims/internal/testutil/fixtures"
)

// TokenIssuer is a fake authorization server. It publishes a JWKS at
// /jwks and an OpenID Connect discovery document at
// /.well-known/openid-configuration, counts JWKS downloads, and mints
// RS256 access tokens. Its issuer is the server URL.
type TokenIssuer struct {
	Audience string

	server  *httptest.Server
	fetches atomic.Int32

	mu        sync.Mutex
	keys      map[string]*rsa.PrivateKey
	published []string
	activeKid string
	failing   bool
}

// NewTokenIssuer starts an issuer with one published key, "key-1".
func NewTokenIssuer(t testing.TB) *TokenIssuer {
	t.Helper()
	i := &TokenIssuer{
		Audience: fixtures.Audience,
		keys:     make(map[string]*rsa.PrivateKey),
	}
	i.addKey(t, "key-1", true)
	i.activeKid = "key-1"

	mux := http.NewServeMux()
	mux.HandleFunc("/jwks", i.serveJWKS)
	mux.HandleFunc("/.well-known/openid-configuration", i.serveDiscovery)
	i.server = httptest.NewServer(mux)
	t.Cleanup(i.server.Close)
	return i
}

// Issuer returns the iss value of minted tokens.
func (i *TokenIssuer) Issuer() string { return i.server.URL }

// JWKSURL returns the key set endpoint.
func (i *TokenIssuer) JWKSURL() string { return i.server.URL + "/jwks" }

// Client returns an HTTP client for the fake server.
func (i *TokenIssuer) Client() *http.Client { return i.server.Client() }

// Fetches reports how many times the key set was downloaded.
func (i *TokenIssuer) Fetches() int { return int(i.fetches.Load()) }

// SetFailing makes the JWKS endpoint answer 503.
func (i *TokenIssuer) SetFailing(failing bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.failing = failing
}

// Rotate publishes a new signing key under kid and makes it the key used
// by Mint. Older keys stay published.
func (i *TokenIssuer) Rotate(t testing.TB, kid string) {
	t.Helper()
	i.addKey(t, kid, true)
	i.mu.Lock()
	i.activeKid = kid
	i.mu.Unlock()
}

// Claims returns a valid claim set for subject with the given scope that
// expires in 15 minutes.
func (i *TokenIssuer) Claims(subject, scope string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":        i.Issuer(),
		"aud":        i.Audience,
		"sub":        subject,
		"scope":      scope,
		"iat":        now.Unix(),
		"exp":        now.Add(15 * time.Minute).Unix(),
		"manager_id": fixtures.ManagerID,
		"role":       fixtures.Role,
	}
}

// Mint signs claims with the active key.
func (i *TokenIssuer) Mint(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	i.mu.Lock()
	kid := i.activeKid
	i.mu.Unlock()
	return i.MintWithKid(t, kid, claims)
}

// MintWithKid signs claims with the named key, creating an unpublished
// key when kid is unknown.
func (i *TokenIssuer) MintWithKid(t testing.TB, kid string, claims jwt.MapClaims) string {
	t.Helper()
	i.mu.Lock()
	key, ok := i.keys[kid]
	i.mu.Unlock()
	if !ok {
		key = i.addKey(t, kid, false)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err, "sign token")
	return signed
}

// PrivateKey returns the signing key registered under kid.
func (i *TokenIssuer) PrivateKey(kid string) (*rsa.PrivateKey, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	key, ok := i.keys[kid]
	return key, ok
}

// Publish adds an already-known (unpublished) key to the key set.
func (i *TokenIssuer) Publish(kid string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.keys[kid]; ok {
		i.published = append(i.published, kid)
	}
}

func (i *TokenIssuer) addKey(t testing.TB, kid string, publish bool) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "generate RSA key")

	i.mu.Lock()
	defer i.mu.Unlock()
	i.keys[kid] = key
	if publish {
		i.published = append(i.published, kid)
	}
	return key
}

func (i *TokenIssuer) serveJWKS(w http.ResponseWriter, _ *http.Request) {
	i.fetches.Add(1)

	i.mu.Lock()
	failing := i.failing
	set := jose.JSONWebKeySet{}
	for _, kid := range i.published {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       &i.keys[kid].PublicKey,
			KeyID:     kid,
			Algorithm: "RS256",
			Use:       "sig",
		})
	}
	i.mu.Unlock()

	if failing {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (i *TokenIssuer) serveDiscovery(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                i.Issuer(),
		"jwks_uri":                              i.JWKSURL(),
		"authorization_endpoint":                i.Issuer() + "/authorize",
		"token_endpoint":                        i.Issuer() + "/token",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}
