package auth

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

// maxTokenSize is the largest access token accepted, in bytes.
const maxTokenSize = 8192

// DefaultAlgorithms are the accepted signing algorithms when none are
// configured.
var DefaultAlgorithms = []string{"RS256", "ES256"}

// KeyResolver returns the public key for a token's key id.
// [KeyRetriever] is the production implementation.
type KeyResolver interface {
	Key(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// ValidatorConfig configures an [AccessTokenValidator].
type ValidatorConfig struct {
	// Issuer is the expected iss claim. Required.
	Issuer string

	// Audience is the expected aud claim. Required.
	Audience string

	// Algorithms lists the accepted JWS algorithms. Defaults to
	// [DefaultAlgorithms]. "none" and HMAC algorithms are rejected.
	Algorithms []string

	// ClockSkew is the leeway applied to exp, nbf and iat.
	ClockSkew time.Duration
}

// Validate checks that cfg can build a validator.
func (c *ValidatorConfig) Validate() *sserr.Error {
	if c.Issuer == "" {
		return sserr.New(sserr.CodeConfiguration, "auth: issuer is required")
	}
	if c.Audience == "" {
		return sserr.New(sserr.CodeConfiguration, "auth: audience is required")
	}
	if c.ClockSkew < 0 {
		return sserr.New(sserr.CodeConfiguration, "auth: clock skew must not be negative")
	}
	for _, alg := range c.Algorithms {
		switch alg {
		case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512", "EdDSA":
		default:
			return sserr.Newf(sserr.CodeConfiguration, "auth: algorithm %q is not an asymmetric JWS algorithm", alg)
		}
	}
	return nil
}

// AccessTokenValidator verifies JWT access tokens issued by a single
// authorization server: signature, algorithm, issuer, audience, expiry and
// issued-at time. It is safe for concurrent use.
type AccessTokenValidator struct {
	parser *jwt.Parser
	keys   KeyResolver
	tracer trace.Tracer
}

// NewAccessTokenValidator returns a validator that obtains verification
// keys from keys.
func NewAccessTokenValidator(cfg ValidatorConfig, keys KeyResolver) (*AccessTokenValidator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, sserr.New(sserr.CodeConfiguration, "auth: key resolver is required")
	}
	algorithms := cfg.Algorithms
	if len(algorithms) == 0 {
		algorithms = DefaultAlgorithms
	}
	return &AccessTokenValidator{
		parser: jwt.NewParser(
			jwt.WithValidMethods(algorithms),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(cfg.ClockSkew),
		),
		keys:   keys,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Validate verifies token and returns its claims.
//
// Every rejection is an InvalidToken error carrying the same client
// message; the rejection reason is recorded in the "reason" detail for
// logs. A failure to obtain signing keys is returned as
// MetadataUnavailable instead, since it says nothing about the token.
func (v *AccessTokenValidator) Validate(ctx context.Context, token string) (*TokenClaims, error) {
	ctx, span := startSpan(ctx, v.tracer, "auth.ValidateAccessToken")
	defer span.End()

	claims, err := v.validate(ctx, token)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("auth.subject", claims.Subject()))
	return claims, nil
}

var (
	errEmptyToken     = errors.New("auth: token is empty")
	errOversizedToken = fmt.Errorf("auth: token exceeds %d bytes", maxTokenSize)
	errMissingKid     = errors.New("auth: token header has no kid")
	errMissingSubject = errors.New("auth: token has no sub claim")
)

func (v *AccessTokenValidator) validate(ctx context.Context, token string) (*TokenClaims, error) {
	if token == "" {
		return nil, invalid(errEmptyToken)
	}
	if len(token) > maxTokenSize {
		return nil, invalid(errOversizedToken)
	}

	mc := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(token, mc, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errMissingKid
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		var ssErr *sserr.Error
		if errors.As(err, &ssErr) {
			switch ssErr.Code {
			case sserr.CodeMetadataUnavailable, sserr.CodeInvalidToken:
				return nil, ssErr
			}
		}
		return nil, invalid(err)
	}

	claims := NewTokenClaims(mc)
	if claims.Subject() == "" {
		return nil, invalid(errMissingSubject)
	}
	return claims, nil
}

func invalid(err error) *sserr.Error {
	return sserr.InvalidToken(err).WithDetail("reason", invalidTokenReason(err))
}

// invalidTokenReason names why a token was rejected, for logs only.
func invalidTokenReason(err error) string {
	switch {
	case errors.Is(err, errEmptyToken):
		return "empty"
	case errors.Is(err, errOversizedToken):
		return "oversized"
	case errors.Is(err, errMissingKid):
		return "missing_kid"
	case errors.Is(err, errMissingSubject):
		return "missing_subject"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad_signature"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "not_yet_valid"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "wrong_issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "wrong_audience"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing_claim"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	default:
		return "invalid"
	}
}
