// Package pipeline runs business operations behind an ordered chain of
// stages: request scope setup, audit logging, error translation,
// authorization and CORS.
//
// Each [Stage] has a pre-hook that runs on the way in and a post-hook that
// runs on the way out. The [Chain] driver runs pre-hooks in order until one
// short-circuits, then the operation's handler, then every post-hook in
// reverse order. Post-hooks run even for stages whose pre-hook was skipped,
// and a panic anywhere is recovered into an UnhandledException, so the
// response is always translated, logged and decorated.
//
//	chain, err := pipeline.NewStandardChain(pipeline.Dependencies{...})
//	router.Method(http.MethodGet, "/api/userinfo", pipeline.HTTPHandler(chain, pipeline.Operation{
//	    Name:          "GetUserInfo",
//	    RequiredScope: "investments",
//	    Handler:       getUserInfo,
//	}))
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-claims/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-claims/pkg/pipeline"

// Request is the transport-neutral form of an inbound call.
type Request struct {
	Method         string
	Path           string
	Headers        http.Header
	PathParameters map[string]string
	Body           []byte
}

// PathParameter returns a named path parameter or "".
func (r *Request) PathParameter(name string) string {
	return r.PathParameters[name]
}

// Response is what the chain hands back to the transport.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON renders v as an application/json response.
func JSON(status int, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnhandled, "pipeline: response could not be encoded")
	}
	return &Response{
		StatusCode: status,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Body:       body,
	}, nil
}

// Handler is a business operation. The principal is available through
// [auth.PrincipalFromContext] or [Scope.Principal]. Returned errors are
// translated by the exception stage; handlers should return typed
// *sserr.Error values for client errors.
type Handler func(ctx context.Context, req *Request) (*Response, error)

// Operation names a handler and the scope a caller needs to invoke it.
// An empty RequiredScope falls back to the authorization stage default.
type Operation struct {
	Name          string
	RequiredScope string
	Handler       Handler
}

// Scope is the per-request state shared by the stages of one invocation.
// It is never shared between requests.
type Scope struct {
	Request       *Request
	Operation     Operation
	CorrelationID string
	StartedAt     time.Time
	Principal     *auth.ClaimsPrincipal

	// Response short-circuits the chain when set by a pre-hook.
	Response *Response

	// Err is the failure that escaped a pre-hook or the handler.
	Err error

	// ClientError is Err's rendering, once translated.
	ClientError *sserr.ClientError

	// PanicStack is set when Err was recovered from a panic.
	PanicStack []byte

	// Headers are added to the final response, whichever stage wrote it.
	Headers http.Header
}

type scopeKey struct{}

// ContextWithScope returns a copy of ctx carrying s.
func ContextWithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFromContext returns the request scope, if any.
func ScopeFromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok && s != nil
}

// Stage is one link of the chain.
type Stage interface {
	Name() string

	// Before runs on the way in. It may return a derived context, and
	// short-circuits the chain by returning an error or setting
	// s.Response.
	Before(ctx context.Context, s *Scope) (context.Context, error)

	// After runs on the way out, for every stage.
	After(ctx context.Context, s *Scope)
}

// Chain is an ordered list of stages. It is safe for concurrent use.
type Chain struct {
	stages []Stage
	tracer trace.Tracer
}

// NewChain returns a chain running stages in the given order.
func NewChain(stages ...Stage) *Chain {
	return &Chain{stages: stages, tracer: otel.Tracer(tracerName)}
}

// Stages returns the stage names in order.
func (c *Chain) Stages() []string {
	names := make([]string, len(c.stages))
	for i, st := range c.stages {
		names[i] = st.Name()
	}
	return names
}

// Invoke runs op for req and always returns a response. Without an
// exception stage, an unrendered failure is translated with a zero
// [sserr.Translator].
func (c *Chain) Invoke(ctx context.Context, op Operation, req *Request) *Response {
	ctx, span := c.tracer.Start(ctx, "pipeline.Invoke", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(
		attribute.String("pipeline.operation", op.Name),
		attribute.String("http.request.method", req.Method),
	)

	s := &Scope{
		Request:   req,
		Operation: op,
		StartedAt: time.Now(),
		Headers:   make(http.Header),
	}
	if s.Request.Headers == nil {
		s.Request.Headers = make(http.Header)
	}
	c.execute(ctx, s)

	resp := s.Response
	if resp == nil && s.Err != nil {
		ce := sserr.Translator{}.Translate(s.Err)
		s.ClientError = ce
		resp = errorResponse(ce)
	}
	if resp == nil {
		resp = &Response{StatusCode: http.StatusNoContent}
	}
	if resp.Headers == nil {
		resp.Headers = make(http.Header)
	}
	maps.Copy(resp.Headers, s.Headers)

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if s.CorrelationID != "" {
		span.SetAttributes(attribute.String("pipeline.correlation_id", s.CorrelationID))
	}
	if s.Err != nil {
		span.RecordError(s.Err)
		if resp.StatusCode >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, s.Err.Error())
		}
	}
	return resp
}

func (c *Chain) execute(ctx context.Context, s *Scope) {
	for _, st := range c.stages {
		defer func() { c.after(ctx, st, s) }()
	}

	for _, st := range c.stages {
		next, err := c.before(ctx, st, s)
		if next != nil {
			ctx = next
		}
		if err != nil {
			s.fail(err)
			return
		}
		if s.Response != nil || s.Err != nil {
			return
		}
	}
	c.handle(ctx, s)
}

func (c *Chain) before(ctx context.Context, st Stage, s *Scope) (next context.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, err = nil, s.recovered(r, "stage "+st.Name()+" panicked")
		}
	}()
	return st.Before(ctx, s)
}

func (c *Chain) after(ctx context.Context, st Stage, s *Scope) {
	defer func() {
		if r := recover(); r != nil {
			s.Response = nil
			s.ClientError = nil
			s.Err = s.recovered(r, "stage "+st.Name()+" panicked on the way out")
		}
	}()
	st.After(ctx, s)
}

func (c *Chain) handle(ctx context.Context, s *Scope) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(s.recovered(r, "operation "+s.Operation.Name+" panicked"))
		}
	}()
	if s.Operation.Handler == nil {
		s.fail(sserr.Newf(sserr.CodeNotFound, "No handler for %s", s.Operation.Name))
		return
	}
	resp, err := s.Operation.Handler(ctx, s.Request)
	if err != nil {
		s.fail(err)
		return
	}
	s.Response = resp
}

func (s *Scope) fail(err error) {
	if s.Err == nil {
		s.Err = err
	}
}

func (s *Scope) recovered(r any, message string) error {
	s.PanicStack = debug.Stack()
	cause, ok := r.(error)
	if !ok {
		cause = fmt.Errorf("%v", r)
	}
	return sserr.Wrap(cause, sserr.CodeUnhandled, "pipeline: "+message)
}

func errorResponse(ce *sserr.ClientError) *Response {
	return &Response{
		StatusCode: ce.StatusCode,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Body:       ce.Body(),
	}
}
