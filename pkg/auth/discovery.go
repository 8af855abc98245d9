package auth

import (
	"context"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

// DiscoverJWKSURL resolves the key set endpoint of issuer from its OpenID
// Connect discovery document. The document's issuer must equal issuer.
// A nil client uses http.DefaultClient.
//
// Failures are reported as MetadataUnavailable.
func DiscoverJWKSURL(ctx context.Context, issuer string, client *http.Client) (string, error) {
	ctx, span := startSpan(ctx, otel.Tracer(tracerName), "auth.DiscoverJWKSURL")
	defer span.End()
	span.SetAttributes(attribute.String("auth.issuer", issuer))

	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		err := sserr.Wrap(err, sserr.CodeMetadataUnavailable, "auth: OpenID Connect discovery failed").
			WithDetail("issuer", issuer)
		finishSpan(span, err)
		return "", err
	}

	var metadata struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&metadata); err != nil {
		err := sserr.Wrap(err, sserr.CodeMetadataUnavailable, "auth: discovery document could not be decoded").
			WithDetail("issuer", issuer)
		finishSpan(span, err)
		return "", err
	}
	if metadata.JWKSURI == "" {
		err := sserr.New(sserr.CodeMetadataUnavailable, "auth: discovery document has no jwks_uri").
			WithDetail("issuer", issuer)
		finishSpan(span, err)
		return "", err
	}
	return metadata.JWKSURI, nil
}
