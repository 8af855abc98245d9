package auth

import (
	"maps"
	"slices"
	"strings"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

// ---------------------------------------------------------------------------
// ScopeSet
// ---------------------------------------------------------------------------

// ScopeSet is the parsed form of a space-delimited OAuth scope string.
type ScopeSet map[string]struct{}

// ParseScopes splits scope on whitespace. Duplicates collapse.
func ParseScopes(scope string) ScopeSet {
	set := make(ScopeSet)
	for _, s := range strings.Fields(scope) {
		set[s] = struct{}{}
	}
	return set
}

// Has reports whether scope is present.
func (s ScopeSet) Has(scope string) bool {
	_, ok := s[scope]
	return ok
}

// HasAll reports whether every space-delimited scope in required is
// present. An empty requirement is always satisfied.
func (s ScopeSet) HasAll(required string) bool {
	for _, r := range strings.Fields(required) {
		if !s.Has(r) {
			return false
		}
	}
	return true
}

// List returns the scopes sorted.
func (s ScopeSet) List() []string {
	return slices.Sorted(maps.Keys(s))
}

// String joins the sorted scopes with spaces.
func (s ScopeSet) String() string {
	return strings.Join(s.List(), " ")
}

// ---------------------------------------------------------------------------
// TokenClaims
// ---------------------------------------------------------------------------

// TokenClaims is the verified payload of an access token. Registered
// claims have typed accessors; everything the issuer embedded (manager
// id, role, ...) stays reachable through Claim and Claims.
//
// TokenClaims is immutable. Accessors return deep copies, so nested
// arrays and objects in a returned value can be changed freely.
type TokenClaims struct {
	subject   string
	issuer    string
	audience  []string
	scopes    ScopeSet
	expiresAt time.Time
	raw       map[string]any
}

// NewTokenClaims builds TokenClaims from a decoded payload. It performs no
// verification; [AccessTokenValidator] is the only production caller.
func NewTokenClaims(payload map[string]any) *TokenClaims {
	raw := cloneObject(payload)
	c := &TokenClaims{raw: raw}
	c.subject, _ = raw["sub"].(string)
	c.issuer, _ = raw["iss"].(string)
	c.audience = stringList(raw["aud"])
	c.scopes = readScopes(raw)
	if exp, ok := numeric(raw["exp"]); ok {
		c.expiresAt = time.Unix(exp, 0).UTC()
	}
	return c
}

func (c *TokenClaims) Subject() string { return c.subject }
func (c *TokenClaims) Issuer() string  { return c.issuer }

// Audience returns the aud claim as a list.
func (c *TokenClaims) Audience() []string { return slices.Clone(c.audience) }

// Scopes returns a copy of the granted scopes.
func (c *TokenClaims) Scopes() ScopeSet { return maps.Clone(c.scopes) }

// HasScope reports whether scope was granted.
func (c *TokenClaims) HasScope(scope string) bool { return c.scopes.Has(scope) }

// ExpiresAt returns exp in UTC, or the zero time when absent.
func (c *TokenClaims) ExpiresAt() time.Time { return c.expiresAt }

// Claim returns a copy of a raw claim value.
func (c *TokenClaims) Claim(name string) (any, bool) {
	v, ok := c.raw[name]
	return cloneValue(v), ok
}

// StringClaim returns a claim when it is a string.
func (c *TokenClaims) StringClaim(name string) string {
	s, _ := c.raw[name].(string)
	return s
}

// Claims returns a copy of the full payload.
func (c *TokenClaims) Claims() map[string]any { return cloneObject(c.raw) }

// cloneObject copies a decoded JSON object. The result is never nil.
func cloneObject(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the container types a JSON decoder produces, plus
// []string. Scalars are returned as is.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneObject(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

// readScopes accepts the RFC 8693 "scope" string and the array-valued
// "scp" claim some issuers use instead.
func readScopes(raw map[string]any) ScopeSet {
	if s, ok := raw["scope"].(string); ok {
		return ParseScopes(s)
	}
	set := make(ScopeSet)
	for _, s := range stringList(raw["scp"]) {
		set[s] = struct{}{}
	}
	return set
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return slices.Clone(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func numeric(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// ---------------------------------------------------------------------------
// ExtraClaims
// ---------------------------------------------------------------------------

// ExtraClaims are claims resolved outside the token. Export returns a
// plain JSON-compatible form; the owning [ExtraClaimsProvider] rebuilds
// the typed value from it with Deserialize.
type ExtraClaims interface {
	Export() map[string]any
}

// EmptyExtraClaims is the neutral ExtraClaims.
type EmptyExtraClaims struct{}

func (EmptyExtraClaims) Export() map[string]any { return map[string]any{} }

// ---------------------------------------------------------------------------
// ClaimsPrincipal
// ---------------------------------------------------------------------------

// ClaimsPrincipal is the resolved caller for one request. It lives in the
// request context and is never persisted.
type ClaimsPrincipal struct {
	token *TokenClaims
	extra ExtraClaims
}

// NewClaimsPrincipal joins token and extra claims. A nil extra becomes
// EmptyExtraClaims.
func NewClaimsPrincipal(token *TokenClaims, extra ExtraClaims) *ClaimsPrincipal {
	if extra == nil {
		extra = EmptyExtraClaims{}
	}
	return &ClaimsPrincipal{token: token, extra: extra}
}

func (p *ClaimsPrincipal) Token() *TokenClaims { return p.token }
func (p *ClaimsPrincipal) Extra() ExtraClaims  { return p.extra }
func (p *ClaimsPrincipal) Subject() string     { return p.token.Subject() }

// HasScope reports whether the token granted scope.
func (p *ClaimsPrincipal) HasScope(scope string) bool { return p.token.HasScope(scope) }

// RequireScope fails with InsufficientScope unless every space-delimited
// scope in required was granted.
func (p *ClaimsPrincipal) RequireScope(required string) error {
	if p.token.scopes.HasAll(required) {
		return nil
	}
	return sserr.InsufficientScope(required)
}
