package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
	"github.com/StricklySoft/stricklysoft-claims/pkg/pipeline"
)

// DefaultHealthTimeout bounds the backing service checks behind /healthz.
const DefaultHealthTimeout = 5 * time.Second

// HealthCheck reports whether one backing service is usable.
type HealthCheck func(ctx context.Context) error

// RouterOptions controls the construction of the API router.
type RouterOptions struct {
	Chain     *pipeline.Chain
	Companies *CompanyRepository

	// Health lists the checks run by /healthz, by name.
	Health map[string]HealthCheck

	// HealthTimeout defaults to DefaultHealthTimeout.
	HealthTimeout time.Duration
}

// NewRouter mounts the API operations behind the chain. Preflights and
// requests with an unsupported method go through the chain too, so they
// receive CORS handling, a correlation id and an audit record.
func NewRouter(opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	api := newAPI(opts.Companies)
	r.Method(http.MethodGet, "/api/userinfo", pipeline.HTTPHandler(opts.Chain, api.userInfoOperation()))
	r.Method(http.MethodGet, "/api/companies", pipeline.HTTPHandler(opts.Chain, api.listCompaniesOperation()))
	r.Method(http.MethodGet, "/api/companies/{id}", pipeline.HTTPHandler(opts.Chain, api.getCompanyOperation()))
	r.Method(http.MethodOptions, "/*", pipeline.HTTPHandler(opts.Chain, pipeline.Operation{Name: "Preflight"}))
	r.MethodNotAllowed(pipeline.HTTPHandler(opts.Chain, methodNotAllowedOperation()).ServeHTTP)

	timeout := opts.HealthTimeout
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	r.Get("/healthz", healthHandler(opts.Health, timeout))
	return r
}

func methodNotAllowedOperation() pipeline.Operation {
	return pipeline.Operation{
		Name: "MethodNotAllowed",
		Handler: func(_ context.Context, req *pipeline.Request) (*pipeline.Response, error) {
			return nil, sserr.MethodNotAllowed(req.Method)
		},
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler runs every check concurrently and answers 503 when any
// fails.
func healthHandler(checks map[string]HealthCheck, timeout time.Duration) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		var mu sync.Mutex
		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
		var g errgroup.Group
		for _, name := range names {
			check := checks[name]
			g.Go(func() error {
				result := "ok"
				err := check(ctx)
				if err != nil {
					result = err.Error()
				}
				mu.Lock()
				resp.Checks[name] = result
				mu.Unlock()
				return err
			})
		}

		status := http.StatusOK
		if err := g.Wait(); err != nil {
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
