package auth

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

// InterceptorConfig configures the gRPC server interceptors.
type InterceptorConfig struct {
	// RequiredScope, when set, must be granted to every caller.
	RequiredScope string

	// Translator renders failures; its Area and id generator are used for
	// server-side failures.
	Translator sserr.Translator

	// Logger receives server-side failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// UnaryServerInterceptor returns a gRPC unary server interceptor that
// authorizes the caller from the "authorization" metadata value and
// stores the resulting [ClaimsPrincipal] in the handler context.
//
// Missing and invalid tokens fail with Unauthenticated, a missing scope
// with PermissionDenied, and any server-side failure with Internal
// carrying only the error id.
func UnaryServerInterceptor(authorizer Authorizer, cfg InterceptorConfig) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authorizeGRPC(ctx, authorizer, cfg, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming form of
// [UnaryServerInterceptor].
func StreamServerInterceptor(authorizer Authorizer, cfg InterceptorConfig) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authorizeGRPC(ss.Context(), authorizer, cfg, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func authorizeGRPC(ctx context.Context, authorizer Authorizer, cfg InterceptorConfig, method string) (context.Context, error) {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(HeaderAuthorization); len(values) > 0 {
			header = values[0]
		}
	}

	principal, err := authorizer.Authorize(ctx, header)
	if err == nil {
		err = principal.RequireScope(cfg.RequiredScope)
	}
	if err != nil {
		return ctx, grpcStatus(ctx, err, cfg, method)
	}
	return ContextWithPrincipal(ctx, principal), nil
}

// grpcStatus maps a failure onto a gRPC status. Server-side failures are
// logged with their cause and returned with only the correlation id.
func grpcStatus(ctx context.Context, err error, cfg InterceptorConfig, method string) error {
	ce := cfg.Translator.Translate(err)
	switch {
	case sserr.IsAuthentication(err):
		return status.Error(codes.Unauthenticated, ce.Message)
	case sserr.IsAuthorization(err):
		return status.Error(codes.PermissionDenied, ce.Message)
	case !ce.IsServerError():
		return status.Error(codes.InvalidArgument, ce.Message)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, "auth: gRPC authorization failed",
		"method", method,
		"error_code", sserr.GetCode(err).String(),
		"error_id", ce.ID,
		"error", fmt.Sprintf("%+v", err),
	)
	return status.Error(codes.Internal, fmt.Sprintf("%s (id: %s)", ce.Message, ce.ID))
}

// wrappedServerStream overrides Context so stream handlers see the
// principal.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
