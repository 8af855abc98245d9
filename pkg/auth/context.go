package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type contextKey int

const principalKey contextKey = iota

// ContextWithPrincipal returns a copy of ctx carrying p.
func ContextWithPrincipal(ctx context.Context, p *ClaimsPrincipal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal stored by the authorization
// stage or interceptor.
//
//	principal, ok := auth.PrincipalFromContext(ctx)
//	if !ok {
//	    return nil, sserr.MissingToken()
//	}
func PrincipalFromContext(ctx context.Context) (*ClaimsPrincipal, bool) {
	p, ok := ctx.Value(principalKey).(*ClaimsPrincipal)
	return p, ok && p != nil
}

// TraceIDFromContext returns the active OpenTelemetry trace id as hex.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}
