package extraclaims

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/StricklySoft/stricklysoft-claims/pkg/auth"
	"github.com/StricklySoft/stricklysoft-claims/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

// Schema creates the user_claims table. Regions are matched
// case-insensitively, so their stored case is kept as written.
const Schema = `CREATE TABLE IF NOT EXISTS user_claims (
	subject    TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	regions    TEXT[] NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const selectUserClaims = `SELECT COALESCE(title, ''), COALESCE(regions, '{}') FROM user_claims WHERE subject = $1`

const upsertUserClaims = `INSERT INTO user_claims (subject, title, regions, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (subject) DO UPDATE SET title = EXCLUDED.title, regions = EXCLUDED.regions, updated_at = now()`

// Querier is the part of [postgres.Client] the provider reads with.
type Querier interface {
	QueryOne(ctx context.Context, sql string, args []any, dest ...any) error
}

// Execer is the part of [postgres.Client] used for schema and writes.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var (
	_ Querier = (*postgres.Client)(nil)
	_ Execer  = (*postgres.Client)(nil)
)

// PostgresProvider is an [auth.ExtraClaimsProvider] backed by the
// user_claims table. A subject without a row gets empty UserClaims.
type PostgresProvider struct {
	db Querier
}

var _ auth.ExtraClaimsProvider = (*PostgresProvider)(nil)

func NewPostgresProvider(db Querier) *PostgresProvider {
	return &PostgresProvider{db: db}
}

// Lookup reads the claims of subject. Database failures, cancellation
// included, are CodeUpstreamLookup.
func (p *PostgresProvider) Lookup(ctx context.Context, subject string, _ *auth.TokenClaims) (auth.ExtraClaims, error) {
	var c UserClaims
	err := p.db.QueryOne(ctx, selectUserClaims, []any{subject}, &c.Title, &c.Regions)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return UserClaims{}, nil
	case err != nil:
		return nil, sserr.Wrap(err, sserr.CodeUpstreamLookup, "extraclaims: user claims lookup failed").
			WithDetail("subject", subject)
	}
	return c, nil
}

// Deserialize rebuilds UserClaims from their exported form.
func (p *PostgresProvider) Deserialize(data map[string]any) (auth.ExtraClaims, error) {
	c, err := decodeUserClaims(data)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// EnsureSchema creates the user_claims table when it does not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return sserr.Wrap(err, sserr.CodeConfiguration, "extraclaims: failed to create user_claims table")
	}
	return nil
}

// Save inserts or replaces the claims of subject. Cached copies keep
// serving the previous value until their entries expire.
func Save(ctx context.Context, db Execer, subject string, c UserClaims) error {
	if subject == "" {
		return sserr.Validation("extraclaims: subject is required")
	}
	regions := c.Regions
	if regions == nil {
		regions = []string{}
	}
	if _, err := db.Exec(ctx, upsertUserClaims, subject, c.Title, regions); err != nil {
		return sserr.Wrap(err, sserr.CodeUpstreamLookup, "extraclaims: failed to save user claims").
			WithDetail("subject", subject)
	}
	return nil
}
