// Package server assembles the claims API: configuration, loggers, the
// authorization filter with its cache and extra claims provider, the
// middleware chain and the HTTP routes.
package server

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"time"

	"github.com/StricklySoft/stricklysoft-claims/pkg/auth"
	"github.com/StricklySoft/stricklysoft-claims/pkg/claimscache"
	"github.com/StricklySoft/stricklysoft-claims/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-claims/pkg/clients/redis"
	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
	"github.com/StricklySoft/stricklysoft-claims/pkg/extraclaims"
	"github.com/StricklySoft/stricklysoft-claims/pkg/logging"
	"github.com/StricklySoft/stricklysoft-claims/pkg/pipeline"
)

// Options overrides collaborators, mainly for tests. The zero value is
// valid.
type Options struct {
	// LogOutput receives JSON log records. Defaults to os.Stdout.
	LogOutput io.Writer

	// HTTPClient is used for discovery and key set downloads.
	HTTPClient *http.Client

	// Store replaces the store selected by Cache.Store.
	Store claimscache.Store

	// Provider replaces the provider selected by Claims.Source.
	Provider auth.ExtraClaimsProvider

	// Companies replaces the sample company list.
	Companies []Company

	// HealthChecks are reported by /healthz next to the backing services.
	HealthChecks map[string]HealthCheck

	Now func() time.Time
}

// Server is an assembled claims API.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	chain    *pipeline.Chain
	handler  http.Handler
	redis    *redis.Client
	postgres *postgres.Client
}

// New builds every component described by cfg. Backing services are
// connected eagerly so that misconfiguration fails at startup. Call Close
// to release them.
func New(ctx context.Context, cfg Config, opts Options) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	logger := logging.New(out, level)
	s := &Server{cfg: cfg, logger: logger}

	filter, err := s.buildFilter(ctx, opts)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.chain, err = pipeline.NewStandardChain(pipeline.Dependencies{
		Authorizer: filter,
		Translator: sserr.Translator{Area: cfg.APIName, Now: opts.Now},
		Audit:      logger.With(slog.String("log", "audit")),
		Diagnostic: logger.With(slog.String("log", "diagnostic")),
		CORS: pipeline.CORSConfig{
			TrustedOrigins: cfg.CORS.TrustedOrigins,
			MaxAge:         cfg.CORS.MaxAge,
		},
		RequiredScope: cfg.OAuth.RequiredScope,
		Now:           opts.Now,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	companies := opts.Companies
	if companies == nil {
		companies = SampleCompanies()
	}
	s.handler = NewRouter(RouterOptions{
		Chain:     s.chain,
		Companies: NewCompanyRepository(companies),
		Health:    s.healthChecks(opts.HealthChecks),
	})

	logger.InfoContext(ctx, "claims api assembled",
		slog.String("issuer", cfg.OAuth.Issuer),
		slog.String("cache_store", cfg.Cache.Store),
		slog.String("claims_source", cfg.Claims.Source),
	)
	return s, nil
}

func (s *Server) buildFilter(ctx context.Context, opts Options) (*auth.AuthorizationFilter, error) {
	cfg := s.cfg

	jwksURL := cfg.OAuth.JWKSURL
	if jwksURL == "" {
		discovered, err := auth.DiscoverJWKSURL(ctx, cfg.OAuth.Issuer, opts.HTTPClient)
		if err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "discovered key set endpoint", slog.String("jwks_url", discovered))
		jwksURL = discovered
	}

	keysCfg := auth.KeyRetrieverConfig{JWKSURL: jwksURL, FetchTimeout: cfg.OAuth.JWKSTimeout}
	if opts.HTTPClient != nil {
		keysCfg.HTTPClient = opts.HTTPClient
	}
	keys, err := auth.NewKeyRetriever(keysCfg)
	if err != nil {
		return nil, err
	}
	validator, err := auth.NewAccessTokenValidator(auth.ValidatorConfig{
		Issuer:     cfg.OAuth.Issuer,
		Audience:   cfg.OAuth.Audience,
		Algorithms: cfg.OAuth.Algorithms,
		ClockSkew:  cfg.OAuth.ClockSkew,
	}, keys)
	if err != nil {
		return nil, err
	}

	store := opts.Store
	if store == nil {
		if store, err = s.buildStore(ctx); err != nil {
			return nil, err
		}
	}
	provider := opts.Provider
	if provider == nil {
		if provider, err = s.buildProvider(ctx); err != nil {
			return nil, err
		}
	}

	return auth.NewAuthorizationFilter(auth.FilterConfig{
		Validator: validator,
		Cache:     claimscache.New(store, claimscache.Options{TTL: cfg.Cache.TTL(), Now: opts.Now}),
		Provider:  provider,
	})
}

func (s *Server) buildStore(ctx context.Context) (claimscache.Store, error) {
	switch s.cfg.Cache.Store {
	case CacheStoreRedis:
		client, err := redis.NewClient(ctx, s.cfg.Redis)
		if err != nil {
			return nil, err
		}
		s.redis = client
		return claimscache.NewRedisStore(client, s.cfg.Cache.KeyPrefix, nil), nil
	case CacheStoreMemory:
		return claimscache.NewMemoryStore(s.cfg.Cache.MaxEntries, nil)
	default:
		s.logger.WarnContext(ctx, "claims cache disabled; extra claims are looked up on every request")
		return claimscache.NullStore{}, nil
	}
}

func (s *Server) buildProvider(ctx context.Context) (auth.ExtraClaimsProvider, error) {
	if s.cfg.Claims.Source != ClaimsSourcePostgres {
		return auth.DefaultExtraClaimsProvider{}, nil
	}
	client, err := postgres.NewClient(ctx, s.cfg.Postgres)
	if err != nil {
		return nil, err
	}
	s.postgres = client
	if s.cfg.Claims.CreateSchema {
		if err := extraclaims.EnsureSchema(ctx, client); err != nil {
			return nil, err
		}
	}
	return extraclaims.NewPostgresProvider(client), nil
}

func (s *Server) healthChecks(extra map[string]HealthCheck) map[string]HealthCheck {
	checks := maps.Clone(extra)
	if checks == nil {
		checks = make(map[string]HealthCheck)
	}
	if s.redis != nil {
		checks["redis"] = s.redis.Health
	}
	if s.postgres != nil {
		checks["postgres"] = s.postgres.Health
	}
	return checks
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.handler }

// Logger returns the process logger.
func (s *Server) Logger() *slog.Logger { return s.logger }

// Config returns the configuration the server was built with.
func (s *Server) Config() Config { return s.cfg }

// Close releases backing service connections.
func (s *Server) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("closing redis client", slog.Any("error", err))
		}
		s.redis = nil
	}
	if s.postgres != nil {
		s.postgres.Close()
		s.postgres = nil
	}
}
