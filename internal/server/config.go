package server

import (
	"slices"
	"strings"
	"time"

	"github.com/StricklySoft/stricklysoft-claims/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-claims/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-claims/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
	"github.com/StricklySoft/stricklysoft-claims/pkg/logging"
)

// EnvPrefix prefixes every environment variable the API reads.
const EnvPrefix = "CLAIMSAPI"

// Claims cache stores.
const (
	CacheStoreNone   = "none"
	CacheStoreMemory = "memory"
	CacheStoreRedis  = "redis"
)

// Extra claims sources.
const (
	ClaimsSourceNone     = "none"
	ClaimsSourcePostgres = "postgres"
)

// Config is the process configuration of the claims API.
type Config struct {
	// APIName is reported as the area of 5xx responses.
	APIName    string `json:"api_name" yaml:"api_name" env:"API_NAME" envDefault:"SampleApi"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr" env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel   string `json:"log_level" yaml:"log_level" env:"LOG_LEVEL" envDefault:"info"`

	OAuth  OAuthConfig  `json:"oauth" yaml:"oauth" env:"OAUTH"`
	Cache  CacheConfig  `json:"cache" yaml:"cache" env:"CACHE"`
	CORS   CORSConfig   `json:"cors" yaml:"cors" env:"CORS"`
	Claims ClaimsConfig `json:"claims" yaml:"claims" env:"CLAIMS"`

	Redis    redis.Config    `json:"redis" yaml:"redis"`
	Postgres postgres.Config `json:"postgres" yaml:"postgres"`
}

// OAuthConfig describes the authorization server and the tokens it issues.
type OAuthConfig struct {
	Issuer   string `json:"issuer" yaml:"issuer" env:"ISSUER" required:"true"`
	Audience string `json:"audience" yaml:"audience" env:"AUDIENCE" required:"true"`

	// JWKSURL is discovered from the issuer's OpenID configuration when
	// empty.
	JWKSURL string `json:"jwks_url,omitempty" yaml:"jwks_url,omitempty" env:"JWKS_URL"`

	Algorithms    []string      `json:"algorithms,omitempty" yaml:"algorithms,omitempty" env:"ALGORITHMS"`
	ClockSkew     time.Duration `json:"clock_skew,omitempty" yaml:"clock_skew,omitempty" env:"CLOCK_SKEW"`
	JWKSTimeout   time.Duration `json:"jwks_timeout,omitempty" yaml:"jwks_timeout,omitempty" env:"JWKS_TIMEOUT" envDefault:"5s"`
	RequiredScope string        `json:"required_scope" yaml:"required_scope" env:"REQUIRED_SCOPE" envDefault:"investments"`
}

// CacheConfig selects and sizes the claims cache.
type CacheConfig struct {
	Store      string `json:"store" yaml:"store" env:"STORE" envDefault:"memory"`
	TTLMinutes int    `json:"ttl_minutes" yaml:"ttl_minutes" env:"TTL_MINUTES" envDefault:"30"`

	// MaxEntries bounds the memory store.
	MaxEntries int `json:"max_entries" yaml:"max_entries" env:"MAX_ENTRIES" envDefault:"10000"`

	// KeyPrefix namespaces keys in the redis store.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"KEY_PREFIX" envDefault:"claims:"`
}

// TTL returns TTLMinutes as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	TrustedOrigins []string      `json:"trusted_origins,omitempty" yaml:"trusted_origins,omitempty" env:"TRUSTED_ORIGINS"`
	MaxAge         time.Duration `json:"max_age" yaml:"max_age" env:"MAX_AGE" envDefault:"24h"`
}

// ClaimsConfig selects where extra claims come from.
type ClaimsConfig struct {
	Source string `json:"source" yaml:"source" env:"SOURCE" envDefault:"none"`

	// CreateSchema creates the user_claims table at startup.
	CreateSchema bool `json:"create_schema,omitempty" yaml:"create_schema,omitempty" env:"CREATE_SCHEMA"`
}

// Validate checks cross-field rules. Client configs are validated only
// when the selected store or source uses them.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if !strings.HasPrefix(c.OAuth.Issuer, "https://") && !strings.HasPrefix(c.OAuth.Issuer, "http://") {
		return sserr.Newf(sserr.CodeValidation, "server: oauth issuer %q must be an http(s) URL", c.OAuth.Issuer)
	}
	if c.OAuth.JWKSTimeout < 0 || c.OAuth.ClockSkew < 0 {
		return sserr.New(sserr.CodeValidation, "server: oauth timeouts must not be negative")
	}
	if c.Cache.TTLMinutes <= 0 {
		return sserr.Newf(sserr.CodeValidation, "server: cache ttl must be positive, got %d minutes", c.Cache.TTLMinutes)
	}

	switch c.Cache.Store {
	case CacheStoreNone:
	case CacheStoreMemory:
		if c.Cache.MaxEntries <= 0 {
			return sserr.Newf(sserr.CodeValidation, "server: cache max entries must be positive, got %d", c.Cache.MaxEntries)
		}
	case CacheStoreRedis:
		if err := c.Redis.Validate(); err != nil {
			return sserr.Wrap(err, sserr.CodeValidation, "server: invalid redis configuration")
		}
	default:
		return sserr.Newf(sserr.CodeValidation, "server: unknown cache store %q", c.Cache.Store)
	}

	switch c.Claims.Source {
	case ClaimsSourceNone:
	case ClaimsSourcePostgres:
		if err := c.Postgres.Validate(); err != nil {
			return sserr.Wrap(err, sserr.CodeValidation, "server: invalid postgres configuration")
		}
	default:
		return sserr.Newf(sserr.CodeValidation, "server: unknown claims source %q", c.Claims.Source)
	}

	if slices.Contains(c.CORS.TrustedOrigins, "*") {
		return sserr.New(sserr.CodeValidation, "server: cors trusted origins must be listed explicitly")
	}
	return nil
}

// LoadConfig resolves the configuration from defaults, the optional file
// at path and CLAIMSAPI_* environment variables. lookup may be nil.
func LoadConfig(path string, lookup func(string) (string, bool)) (Config, error) {
	loader := config.New().WithEnvPrefix(EnvPrefix)
	if path != "" {
		loader = loader.WithFile(path)
	}
	if lookup != nil {
		loader = loader.WithLookup(lookup)
	}
	var cfg Config
	if err := loader.Load(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Describe lists every setting by environment variable name with secrets
// redacted.
func (c *Config) Describe() []config.Entry {
	return config.Describe(c, EnvPrefix)
}
