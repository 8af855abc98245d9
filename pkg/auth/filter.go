package auth

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-claims/pkg/claimscache"
	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

// TokenValidator verifies a raw access token. [AccessTokenValidator] is
// the production implementation.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*TokenClaims, error)
}

// ClaimsCache stores exported extra claims keyed by token fingerprint.
// [claimscache.Cache] is the production implementation.
type ClaimsCache interface {
	Get(ctx context.Context, fingerprint string) (map[string]any, bool, error)
	Put(ctx context.Context, fingerprint string, claims map[string]any) error
}

// Authorizer turns an Authorization header value into a principal.
type Authorizer interface {
	Authorize(ctx context.Context, authorizationHeader string) (*ClaimsPrincipal, error)
}

// FilterConfig wires an [AuthorizationFilter].
type FilterConfig struct {
	Validator TokenValidator
	Cache     ClaimsCache

	// Provider resolves extra claims. Defaults to
	// [DefaultExtraClaimsProvider].
	Provider ExtraClaimsProvider
}

// AuthorizationFilter resolves the [ClaimsPrincipal] for a request: it
// reads the bearer token, validates it, and joins its claims with extra
// claims served from the claims cache or, on a miss, from the provider.
//
// The provider is consulted at most once per token for as long as the
// cache keeps the entry. Cache failures are fatal for the request; a
// lookup result that could not be cached is discarded rather than used.
type AuthorizationFilter struct {
	validator TokenValidator
	cache     ClaimsCache
	provider  ExtraClaimsProvider
	tracer    trace.Tracer
}

var _ Authorizer = (*AuthorizationFilter)(nil)

// NewAuthorizationFilter validates cfg and returns a filter.
func NewAuthorizationFilter(cfg FilterConfig) (*AuthorizationFilter, error) {
	if cfg.Validator == nil {
		return nil, sserr.New(sserr.CodeConfiguration, "auth: token validator is required")
	}
	if cfg.Cache == nil {
		return nil, sserr.New(sserr.CodeConfiguration, "auth: claims cache is required")
	}
	provider := cfg.Provider
	if provider == nil {
		provider = DefaultExtraClaimsProvider{}
	}
	return &AuthorizationFilter{
		validator: cfg.Validator,
		cache:     cfg.Cache,
		provider:  provider,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// Authorize resolves the principal for authorizationHeader. Errors are
// *sserr.Error values of kind MissingToken, InvalidToken,
// MetadataUnavailable, Cache or UpstreamLookup.
func (f *AuthorizationFilter) Authorize(ctx context.Context, authorizationHeader string) (*ClaimsPrincipal, error) {
	ctx, span := startSpan(ctx, f.tracer, "auth.Authorize")
	defer span.End()

	principal, hit, err := f.authorize(ctx, authorizationHeader)
	span.SetAttributes(attribute.Bool("auth.claims_cache_hit", hit))
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("auth.subject", principal.Subject()))
	return principal, nil
}

func (f *AuthorizationFilter) authorize(ctx context.Context, header string) (*ClaimsPrincipal, bool, error) {
	token, ok := ReadBearerToken(header)
	if !ok {
		return nil, false, sserr.MissingToken()
	}

	claims, err := f.validator.Validate(ctx, token)
	if err != nil {
		if _, typed := sserr.AsError(err); typed {
			return nil, false, err
		}
		return nil, false, invalid(err)
	}

	fingerprint := claimscache.Fingerprint(token)
	cached, found, err := f.cache.Get(ctx, fingerprint)
	if err != nil {
		return nil, false, cacheError(err, "auth: claims cache read failed")
	}
	if found {
		extra, err := f.provider.Deserialize(cached)
		if err != nil {
			return nil, true, sserr.Wrap(err, sserr.CodeCache, "auth: cached extra claims could not be restored")
		}
		return NewClaimsPrincipal(claims, extra), true, nil
	}

	extra, err := f.provider.Lookup(ctx, claims.Subject(), claims)
	if err != nil {
		if sserr.HasCode(err, sserr.CodeUpstreamLookup) {
			return nil, false, err
		}
		return nil, false, sserr.Wrap(err, sserr.CodeUpstreamLookup, "auth: extra claims lookup failed").
			WithDetail("subject", claims.Subject())
	}
	if extra == nil {
		extra = EmptyExtraClaims{}
	}
	if err := f.cache.Put(ctx, fingerprint, extra.Export()); err != nil {
		return nil, false, cacheError(err, "auth: claims cache write failed")
	}
	return NewClaimsPrincipal(claims, extra), false, nil
}

func cacheError(err error, message string) error {
	if sserr.HasCode(err, sserr.CodeCache) {
		return err
	}
	return sserr.Wrap(err, sserr.CodeCache, message)
}
