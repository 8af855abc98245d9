package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/StricklySoft/stricklysoft-claims/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
	"github.com/StricklySoft/stricklysoft-claims/pkg/logging"
)

// HeaderCorrelationID carries the caller's correlation id in both
// directions.
const HeaderCorrelationID = "X-Correlation-Id"

// ---------------------------------------------------------------------------
// ScopeStage
// ---------------------------------------------------------------------------

// ScopeStage assigns the correlation id, makes the [Scope] reachable from
// the context and tags every log record of the request with the
// correlation id and operation name.
type ScopeStage struct {
	// NewID generates correlation ids. Defaults to uuid.NewString.
	NewID func() string
}

func (ScopeStage) Name() string { return "scope" }

func (st ScopeStage) Before(ctx context.Context, s *Scope) (context.Context, error) {
	id := strings.TrimSpace(s.Request.Headers.Get(HeaderCorrelationID))
	if id == "" {
		newID := st.NewID
		if newID == nil {
			newID = uuid.NewString
		}
		id = newID()
	}
	s.CorrelationID = id

	ctx = ContextWithScope(ctx, s)
	return logging.WithAttrs(ctx,
		slog.String("correlation_id", id),
		slog.String("operation", s.Operation.Name),
	), nil
}

func (ScopeStage) After(_ context.Context, s *Scope) {
	if s.CorrelationID != "" {
		s.Headers.Set(HeaderCorrelationID, s.CorrelationID)
	}
}

// ---------------------------------------------------------------------------
// LoggingStage
// ---------------------------------------------------------------------------

// LoggingStage writes one audit record per request. Records carry the
// outcome and the caller but never a stack trace; those belong to the
// diagnostic log written by [ExceptionStage].
type LoggingStage struct {
	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

func (LoggingStage) Name() string { return "logging" }

func (st LoggingStage) Before(ctx context.Context, s *Scope) (context.Context, error) {
	s.StartedAt = st.now()
	return ctx, nil
}

func (st LoggingStage) After(ctx context.Context, s *Scope) {
	if st.Logger == nil {
		return
	}
	status := statusOf(s)
	attrs := []slog.Attr{
		slog.String("method", s.Request.Method),
		slog.String("path", s.Request.Path),
		slog.Int("status", status),
		slog.Int64("duration_ms", st.now().Sub(s.StartedAt).Milliseconds()),
	}
	if s.Principal != nil {
		attrs = append(attrs,
			slog.String("subject", s.Principal.Subject()),
			slog.String("scopes", s.Principal.Token().Scopes().String()),
		)
	}
	if s.Err != nil {
		attrs = append(attrs, slog.String("error_code", string(sserr.GetCode(s.Err))))
	}
	if s.ClientError != nil && s.ClientError.ID != "" {
		attrs = append(attrs, slog.String("error_id", s.ClientError.ID))
	}

	level := slog.LevelInfo
	switch {
	case status >= http.StatusInternalServerError:
		level = slog.LevelError
	case status >= http.StatusBadRequest:
		level = slog.LevelWarn
	}
	st.Logger.LogAttrs(ctx, level, "request completed", attrs...)
}

func (st LoggingStage) now() time.Time {
	if st.Now != nil {
		return st.Now()
	}
	return time.Now()
}

func statusOf(s *Scope) int {
	switch {
	case s.Response != nil:
		return s.Response.StatusCode
	case s.Err != nil:
		return sserr.FromError(s.Err).HTTPStatus()
	default:
		return http.StatusNoContent
	}
}

// ---------------------------------------------------------------------------
// ExceptionStage
// ---------------------------------------------------------------------------

// ExceptionStage renders Scope.Err as a JSON error response. Server
// errors are written to the diagnostic log with their cause chain, and
// with the stack when the failure was a recovered panic, under the same
// id the client receives.
type ExceptionStage struct {
	Translator sserr.Translator
	Logger     *slog.Logger
}

func (ExceptionStage) Name() string { return "exception" }

func (ExceptionStage) Before(ctx context.Context, _ *Scope) (context.Context, error) {
	return ctx, nil
}

func (st ExceptionStage) After(ctx context.Context, s *Scope) {
	if s.Err == nil {
		return
	}
	ce := st.Translator.Translate(s.Err)
	s.ClientError = ce
	s.Response = errorResponse(ce)

	if st.Logger == nil {
		return
	}
	if !ce.IsServerError() {
		st.Logger.InfoContext(ctx, "request rejected",
			slog.String("error_code", string(sserr.GetCode(s.Err))),
			slog.String("error", s.Err.Error()),
		)
		return
	}
	attrs := []slog.Attr{
		slog.String("error_id", ce.ID),
		slog.String("error_code", string(sserr.GetCode(s.Err))),
		slog.String("area", ce.Area),
		slog.String("error", fmt.Sprintf("%+v", s.Err)),
	}
	if len(s.PanicStack) > 0 {
		attrs = append(attrs, slog.String("stack", string(s.PanicStack)))
	}
	st.Logger.LogAttrs(ctx, slog.LevelError, "request failed", attrs...)
}

// ---------------------------------------------------------------------------
// AuthorizationStage
// ---------------------------------------------------------------------------

// AuthorizationStage resolves the caller and enforces the operation's
// required scope. Preflight requests pass through unauthenticated.
type AuthorizationStage struct {
	Authorizer auth.Authorizer

	// RequiredScope applies to operations that do not name their own.
	RequiredScope string
}

func (AuthorizationStage) Name() string { return "authorization" }

func (st AuthorizationStage) Before(ctx context.Context, s *Scope) (context.Context, error) {
	if s.Request.Method == http.MethodOptions {
		return ctx, nil
	}
	principal, err := st.Authorizer.Authorize(ctx, s.Request.Headers.Get(auth.HeaderAuthorization))
	if err != nil {
		return ctx, err
	}
	s.Principal = principal

	required := s.Operation.RequiredScope
	if required == "" {
		required = st.RequiredScope
	}
	if err := principal.RequireScope(required); err != nil {
		return ctx, err
	}

	ctx = auth.ContextWithPrincipal(ctx, principal)
	return logging.WithAttrs(ctx, slog.String("subject", principal.Subject())), nil
}

func (AuthorizationStage) After(context.Context, *Scope) {}

// ---------------------------------------------------------------------------
// CORSStage
// ---------------------------------------------------------------------------

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	// TrustedOrigins are compared with the Origin header ignoring case.
	TrustedOrigins []string

	// AllowedMethods are advertised to preflights. Defaults to
	// DefaultAllowedMethods.
	AllowedMethods []string

	// MaxAge is how long a browser may cache a preflight result.
	// Defaults to DefaultPreflightMaxAge.
	MaxAge time.Duration
}

var DefaultAllowedMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

const DefaultPreflightMaxAge = 24 * time.Hour

// CORSStage answers preflights and adds access-control headers for
// trusted origins. Untrusted or absent origins get no CORS headers.
type CORSStage struct {
	Config CORSConfig
}

func (CORSStage) Name() string { return "cors" }

func (CORSStage) Before(ctx context.Context, s *Scope) (context.Context, error) {
	if s.Request.Method == http.MethodOptions {
		s.Response = &Response{StatusCode: http.StatusNoContent}
	}
	return ctx, nil
}

func (st CORSStage) After(_ context.Context, s *Scope) {
	origin := s.Request.Headers.Get("Origin")
	if !st.trusted(origin) {
		return
	}
	h := s.Headers
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")

	if s.Request.Method != http.MethodOptions {
		h.Set("Vary", "origin")
		return
	}
	h.Set("Vary", "origin,access-control-request-headers")

	methods := st.Config.AllowedMethods
	if len(methods) == 0 {
		methods = DefaultAllowedMethods
	}
	h.Set("Access-Control-Allow-Methods", strings.Join(methods, ","))

	maxAge := st.Config.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultPreflightMaxAge
	}
	h.Set("Access-Control-Max-Age", strconv.FormatInt(int64(maxAge/time.Second), 10))

	if requested := s.Request.Headers.Get("Access-Control-Request-Headers"); requested != "" {
		h.Set("Access-Control-Allow-Headers", requested)
	}
}

func (st CORSStage) trusted(origin string) bool {
	if origin == "" {
		return false
	}
	return slices.ContainsFunc(st.Config.TrustedOrigins, func(o string) bool {
		return strings.EqualFold(o, origin)
	})
}
