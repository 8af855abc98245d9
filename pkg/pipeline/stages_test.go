package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-claims/internal/testutil"
	"github.com/StricklySoft/stricklysoft-claims/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-claims/pkg/auth"
	"github.com/StricklySoft/stricklysoft-claims/pkg/claimscache"
	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
	"github.com/StricklySoft/stricklysoft-claims/pkg/logging"
)

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

// syncBuffer guards a log buffer written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// records decodes the JSON lines written so far.
func (b *syncBuffer) records(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		rec := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		out = append(out, rec)
	}
	return out
}

type titleProvider struct {
	lookups atomic.Int32
}

type titleClaims struct{ Title string }

func (c titleClaims) Export() map[string]any { return map[string]any{"title": c.Title} }

func (p *titleProvider) Lookup(context.Context, string, *auth.TokenClaims) (auth.ExtraClaims, error) {
	p.lookups.Add(1)
	return titleClaims{Title: fixtures.Title}, nil
}

func (p *titleProvider) Deserialize(data map[string]any) (auth.ExtraClaims, error) {
	title, _ := data["title"].(string)
	return titleClaims{Title: title}, nil
}

// failingStore misses on read and fails every write.
type failingStore struct {
	puts atomic.Int32
}

func (s *failingStore) Get(context.Context, string) (*claimscache.Entry, bool, error) {
	return nil, false, nil
}

func (s *failingStore) Put(context.Context, string, claimscache.Entry) error {
	s.puts.Add(1)
	return errors.New("READONLY You can't write against a read only replica")
}

type harness struct {
	issuer     *testutil.TokenIssuer
	provider   *titleProvider
	chain      *Chain
	audit      *syncBuffer
	diagnostic *syncBuffer
}

func newHarness(t *testing.T, store claimscache.Store) *harness {
	t.Helper()
	h := &harness{
		issuer:     testutil.NewTokenIssuer(t),
		provider:   &titleProvider{},
		audit:      &syncBuffer{},
		diagnostic: &syncBuffer{},
	}
	keys, err := auth.NewKeyRetriever(auth.KeyRetrieverConfig{JWKSURL: h.issuer.JWKSURL(), HTTPClient: h.issuer.Client()})
	require.NoError(t, err)
	validator, err := auth.NewAccessTokenValidator(auth.ValidatorConfig{
		Issuer:   h.issuer.Issuer(),
		Audience: h.issuer.Audience,
	}, keys)
	require.NoError(t, err)
	if store == nil {
		store, err = claimscache.NewMemoryStore(100, nil)
		require.NoError(t, err)
	}
	filter, err := auth.NewAuthorizationFilter(auth.FilterConfig{
		Validator: validator,
		Cache:     claimscache.New(store, claimscache.Options{}),
		Provider:  h.provider,
	})
	require.NoError(t, err)

	h.chain, err = NewStandardChain(Dependencies{
		Authorizer: filter,
		Translator: sserr.Translator{Area: fixtures.APIName},
		Audit:      logging.New(h.audit, slog.LevelInfo),
		Diagnostic: logging.New(h.diagnostic, slog.LevelInfo),
		CORS: CORSConfig{
			TrustedOrigins: []string{fixtures.TrustedOrigin},
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			MaxAge:         10 * time.Minute,
		},
		RequiredScope: "investments",
		NewID:         func() string { return "generated-correlation-id" },
	})
	require.NoError(t, err)
	return h
}

func (h *harness) bearer(t *testing.T, scope string) string {
	t.Helper()
	return "Bearer " + h.issuer.Mint(t, h.issuer.Claims(fixtures.Subject, scope))
}

func request(method string, headers map[string]string) *Request {
	req := &Request{Method: method, Path: "/api/userinfo", Headers: make(http.Header)}
	for k, v := range headers {
		req.Headers.Set(k, v)
	}
	return req
}

// userInfo returns the principal's subject and title.
var userInfo = Operation{
	Name: "GetUserInfo",
	Handler: func(ctx context.Context, _ *Request) (*Response, error) {
		p, ok := auth.PrincipalFromContext(ctx)
		if !ok {
			return nil, sserr.MissingToken()
		}
		title := p.Extra().(titleClaims).Title
		return JSON(http.StatusOK, map[string]string{"subject": p.Subject(), "title": title})
	},
}

func decodeBody(t *testing.T, resp *Response) map[string]any {
	t.Helper()
	body := map[string]any{}
	require.NoError(t, json.Unmarshal(resp.Body, &body), string(resp.Body))
	return body
}

// ---------------------------------------------------------------------------
// Standard chain
// ---------------------------------------------------------------------------

func TestNewStandardChain_RequiresAuthorizer(t *testing.T) {
	t.Parallel()
	_, err := NewStandardChain(Dependencies{})
	testutil.AssertErrorCode(t, err, sserr.CodeConfiguration)
}

func TestNewStandardChain_StageOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	assert.Equal(t, []string{"scope", "logging", "exception", "authorization", "cors"}, h.chain.Stages())
}

func TestStandardChain_Success(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	resp := h.chain.Invoke(context.Background(), userInfo, request(http.MethodGet, map[string]string{
		"Authorization": h.bearer(t, fixtures.Scope),
	}))

	require.Equal(t, http.StatusOK, resp.StatusCode, string(resp.Body))
	assert.JSONEq(t, `{"subject":"`+fixtures.Subject+`","title":"`+fixtures.Title+`"}`, string(resp.Body))
	assert.Equal(t, "generated-correlation-id", resp.Headers.Get(HeaderCorrelationID))

	records := h.audit.records(t)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "INFO", rec["level"])
	assert.Equal(t, "request completed", rec["msg"])
	assert.EqualValues(t, http.StatusOK, rec["status"])
	assert.Equal(t, fixtures.Subject, rec["subject"])
	assert.Equal(t, "investments openid profile", rec["scopes"])
	assert.Equal(t, "generated-correlation-id", rec["correlation_id"])
	assert.Equal(t, "GetUserInfo", rec["operation"])
	assert.Contains(t, rec, "duration_ms")
	assert.Empty(t, h.diagnostic.records(t))
}

func TestStandardChain_EchoesCorrelationID(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	resp := h.chain.Invoke(context.Background(), userInfo, request(http.MethodGet, map[string]string{
		"Authorization":     h.bearer(t, fixtures.Scope),
		HeaderCorrelationID: "caller-chosen",
	}))

	assert.Equal(t, "caller-chosen", resp.Headers.Get(HeaderCorrelationID))
	assert.Equal(t, "caller-chosen", h.audit.records(t)[0]["correlation_id"])
}

func TestStandardChain_ClientErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		op         Operation
		scope      string
		noHeader   bool
		wantStatus int
		wantCode   string
		wantLevel  string
	}{
		{
			name:       "missing header",
			op:         userInfo,
			noHeader:   true,
			wantStatus: http.StatusUnauthorized,
			wantCode:   "missing_token",
			wantLevel:  "WARN",
		},
		{
			name:       "read token on write operation",
			op:         Operation{Name: "UpdateCompany", RequiredScope: fixtures.WriteScope, Handler: userInfo.Handler},
			scope:      fixtures.ReadScope,
			wantStatus: http.StatusForbidden,
			wantCode:   "insufficient_scope",
			wantLevel:  "WARN",
		},
		{
			name:       "default scope missing",
			op:         userInfo,
			scope:      "openid profile",
			wantStatus: http.StatusForbidden,
			wantCode:   "insufficient_scope",
			wantLevel:  "WARN",
		},
		{
			name: "handler not found",
			op: Operation{Name: "GetCompany", Handler: func(context.Context, *Request) (*Response, error) {
				return nil, sserr.NotFound("Company 42 was not found")
			}},
			scope:      fixtures.Scope,
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
			wantLevel:  "WARN",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, nil)
			headers := map[string]string{}
			if !tt.noHeader {
				headers["Authorization"] = h.bearer(t, tt.scope)
			}

			resp := h.chain.Invoke(context.Background(), tt.op, request(http.MethodGet, headers))

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Headers.Get("Content-Type"))
			body := decodeBody(t, resp)
			assert.Equal(t, tt.wantCode, body["code"])
			assert.NotEmpty(t, body["message"])
			assert.NotContains(t, body, "id")
			assert.NotContains(t, body, "area")
			assert.NotContains(t, body, "utcTime")

			records := h.audit.records(t)
			require.Len(t, records, 1)
			assert.Equal(t, tt.wantLevel, records[0]["level"])
			assert.NotContains(t, records[0], "error_id")
			assert.NotContains(t, records[0], "stack")
		})
	}
}

func TestStandardChain_InsufficientScopeAuditsCaller(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.chain.Invoke(context.Background(),
		Operation{Name: "UpdateCompany", RequiredScope: fixtures.WriteScope, Handler: userInfo.Handler},
		request(http.MethodGet, map[string]string{"Authorization": h.bearer(t, fixtures.ReadScope)}))

	rec := h.audit.records(t)[0]
	assert.Equal(t, fixtures.Subject, rec["subject"])
	assert.Equal(t, string(sserr.CodeInsufficientScope), rec["error_code"])
}

func TestStandardChain_CacheWriteFailure(t *testing.T) {
	t.Parallel()
	store := &failingStore{}
	h := newHarness(t, store)
	bearer := h.bearer(t, fixtures.Scope)

	for range 2 {
		resp := h.chain.Invoke(context.Background(), userInfo, request(http.MethodGet, map[string]string{
			"Authorization": bearer,
		}))

		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, "claims_cache_failure", body["code"])
		assert.Equal(t, "An unexpected problem was encountered", body["message"])
		assert.Equal(t, fixtures.APIName, body["area"])
		assert.NotEmpty(t, body["id"])
		assert.NotEmpty(t, body["utcTime"])
		assert.NotContains(t, string(resp.Body), "READONLY")
	}

	assert.EqualValues(t, 2, h.provider.lookups.Load(), "nothing was cached, so each request looks up again")
	assert.EqualValues(t, 2, store.puts.Load())

	diag := h.diagnostic.records(t)
	require.Len(t, diag, 2)
	assert.Equal(t, "ERROR", diag[0]["level"])
	assert.Equal(t, string(sserr.CodeCache), diag[0]["error_code"])
	assert.Contains(t, diag[0]["error"], "READONLY")
	assert.NotContains(t, diag[0], "stack", "no panic, no stack")

	audit := h.audit.records(t)
	require.Len(t, audit, 2)
	assert.Equal(t, "ERROR", audit[0]["level"])
	assert.Equal(t, diag[0]["error_id"], audit[0]["error_id"])
}

func TestStandardChain_HandlerPanic(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	op := Operation{Name: "Explode", Handler: func(context.Context, *Request) (*Response, error) {
		var m map[string]int
		m["boom"]++
		return nil, nil
	}}

	resp := h.chain.Invoke(context.Background(), op, request(http.MethodGet, map[string]string{
		"Authorization": h.bearer(t, fixtures.Scope),
		"Origin":        fixtures.TrustedOrigin,
	}))

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "server_error", decodeBody(t, resp)["code"])
	assert.Equal(t, fixtures.TrustedOrigin, resp.Headers.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "generated-correlation-id", resp.Headers.Get(HeaderCorrelationID))

	diag := h.diagnostic.records(t)
	require.Len(t, diag, 1)
	assert.Contains(t, diag[0]["stack"], "runtime/debug.Stack")
	assert.NotContains(t, h.audit.records(t)[0], "stack")
}

func TestStandardChain_CORS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		origin     string
		authorized bool
		wantOrigin string
	}{
		{"trusted", fixtures.TrustedOrigin, true, fixtures.TrustedOrigin},
		{"trusted ignoring case", strings.ToUpper(fixtures.TrustedOrigin), true, strings.ToUpper(fixtures.TrustedOrigin)},
		{"trusted on error response", fixtures.TrustedOrigin, false, fixtures.TrustedOrigin},
		{"untrusted", fixtures.UntrustedOrigin, true, ""},
		{"absent", "", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, nil)
			headers := map[string]string{}
			if tt.origin != "" {
				headers["Origin"] = tt.origin
			}
			if tt.authorized {
				headers["Authorization"] = h.bearer(t, fixtures.Scope)
			}

			resp := h.chain.Invoke(context.Background(), userInfo, request(http.MethodGet, headers))

			if tt.wantOrigin == "" {
				for name := range resp.Headers {
					assert.NotContains(t, strings.ToLower(name), "access-control", name)
				}
				assert.Empty(t, resp.Headers.Get("Vary"))
				return
			}
			assert.Equal(t, tt.wantOrigin, resp.Headers.Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "true", resp.Headers.Get("Access-Control-Allow-Credentials"))
			assert.Equal(t, "origin", resp.Headers.Get("Vary"))
			assert.Empty(t, resp.Headers.Get("Access-Control-Allow-Methods"), "only preflights advertise methods")
		})
	}
}

func TestStandardChain_Preflight(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	var called atomic.Bool
	op := Operation{Name: "GetUserInfo", Handler: func(context.Context, *Request) (*Response, error) {
		called.Store(true)
		return nil, nil
	}}

	resp := h.chain.Invoke(context.Background(), op, request(http.MethodOptions, map[string]string{
		"Origin":                         fixtures.TrustedOrigin,
		"Access-Control-Request-Method":  http.MethodGet,
		"Access-Control-Request-Headers": "authorization,x-correlation-id",
	}))

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, resp.Body)
	assert.False(t, called.Load(), "preflight never reaches the handler")
	assert.Equal(t, fixtures.TrustedOrigin, resp.Headers.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Headers.Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "origin,access-control-request-headers", resp.Headers.Get("Vary"))
	assert.Equal(t, "GET,OPTIONS", resp.Headers.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "600", resp.Headers.Get("Access-Control-Max-Age"))
	assert.Equal(t, "authorization,x-correlation-id", resp.Headers.Get("Access-Control-Allow-Headers"))
	assert.Zero(t, h.issuer.Fetches(), "preflight does not authorize")
}

func TestStandardChain_PreflightUntrusted(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	resp := h.chain.Invoke(context.Background(), userInfo, request(http.MethodOptions, map[string]string{
		"Origin": fixtures.UntrustedOrigin,
	}))

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, resp.Headers.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Headers.Get("Access-Control-Max-Age"))
}

func TestCORSStage_Defaults(t *testing.T) {
	t.Parallel()
	s := &Scope{
		Request: request(http.MethodOptions, map[string]string{"Origin": fixtures.TrustedOrigin}),
		Headers: make(http.Header),
	}
	CORSStage{Config: CORSConfig{TrustedOrigins: []string{fixtures.TrustedOrigin}}}.After(context.Background(), s)

	assert.Equal(t, "GET,POST,PUT,PATCH,DELETE,OPTIONS", s.Headers.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "86400", s.Headers.Get("Access-Control-Max-Age"))
	assert.Empty(t, s.Headers.Get("Access-Control-Allow-Headers"))
}

func TestStandardChain_ScopeInContext(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	var seen *Scope
	op := Operation{Name: "Inspect", Handler: func(ctx context.Context, _ *Request) (*Response, error) {
		seen, _ = ScopeFromContext(ctx)
		return nil, nil
	}}

	h.chain.Invoke(context.Background(), op, request(http.MethodGet, map[string]string{
		"Authorization": h.bearer(t, fixtures.Scope),
	}))

	require.NotNil(t, seen)
	assert.Equal(t, "generated-correlation-id", seen.CorrelationID)
	require.NotNil(t, seen.Principal)
	assert.Equal(t, fixtures.Subject, seen.Principal.Subject())
}

func TestLoggingStage_Duration(t *testing.T) {
	t.Parallel()
	buf := &syncBuffer{}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := start
	st := LoggingStage{Logger: logging.New(buf, slog.LevelInfo), Now: func() time.Time { return clock }}
	s := &Scope{Request: request(http.MethodGet, nil), Headers: make(http.Header)}

	_, err := st.Before(context.Background(), s)
	require.NoError(t, err)
	clock = start.Add(1500 * time.Millisecond)
	s.Response = &Response{StatusCode: http.StatusOK}
	st.After(context.Background(), s)

	rec := buf.records(t)[0]
	assert.EqualValues(t, 1500, rec["duration_ms"])
	assert.NotContains(t, rec, "subject")
}
