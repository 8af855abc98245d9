package auth

import "context"

// ExtraClaimsProvider resolves claims the authorization server does not
// put in the token. Lookup runs only on a claims cache miss; Deserialize
// rebuilds a cached value from the map produced by ExtraClaims.Export.
//
// Every Lookup error reaches the caller as UpstreamLookupError; other
// codes are kept only as the cause.
type ExtraClaimsProvider interface {
	Lookup(ctx context.Context, subject string, token *TokenClaims) (ExtraClaims, error)
	Deserialize(data map[string]any) (ExtraClaims, error)
}

// DefaultExtraClaimsProvider is used when an API defines no extra claims.
type DefaultExtraClaimsProvider struct{}

var _ ExtraClaimsProvider = DefaultExtraClaimsProvider{}

func (DefaultExtraClaimsProvider) Lookup(context.Context, string, *TokenClaims) (ExtraClaims, error) {
	return EmptyExtraClaims{}, nil
}

func (DefaultExtraClaimsProvider) Deserialize(map[string]any) (ExtraClaims, error) {
	return EmptyExtraClaims{}, nil
}
