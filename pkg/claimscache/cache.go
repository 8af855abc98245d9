// Package claimscache caches extra claims between requests. Entries are
// keyed by a fingerprint of the access token, live for a fixed time
// after they are written, and are stored through a pluggable [Store]:
// [NullStore] for no caching, [MemoryStore] for a single process, and
// [RedisStore] for a cache shared by several instances.
package claimscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

// DefaultTTL is used when Options.TTL is zero.
const DefaultTTL = 30 * time.Minute

// Entry is one stored value. ExpiresAt is absolute and in UTC.
type Entry struct {
	Payload   []byte
	ExpiresAt time.Time
}

// Store persists entries. Implementations may drop expired entries on
// their own; the Cache re-checks ExpiresAt on every read regardless.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, key string, entry Entry) error
}

// Options configures a Cache.
type Options struct {
	// TTL is how long an entry stays readable after it is written.
	TTL time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Cache stores exported claims as JSON. All errors it returns carry
// [sserr.CodeCache].
type Cache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// New returns a Cache over store.
func New(store Store, opts Options) *Cache {
	if store == nil {
		store = NullStore{}
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{store: store, ttl: ttl, now: now}
}

// Fingerprint derives the cache key for a raw token: the hex SHA-256 of
// the token, so that the token itself is never stored.
func Fingerprint(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// Get returns the claims stored under fingerprint. An expired entry is
// reported as absent.
func (c *Cache) Get(ctx context.Context, fingerprint string) (map[string]any, bool, error) {
	entry, ok, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		return nil, false, sserr.Wrap(err, sserr.CodeCache, "claimscache: read failed")
	}
	if !ok || entry == nil || !c.now().Before(entry.ExpiresAt) {
		return nil, false, nil
	}

	var claims map[string]any
	if err := json.Unmarshal(entry.Payload, &claims); err != nil {
		return nil, false, sserr.Wrap(err, sserr.CodeCache, "claimscache: stored entry is not valid JSON")
	}
	if claims == nil {
		claims = map[string]any{}
	}
	return claims, true, nil
}

// Put stores claims under fingerprint, replacing any previous entry. The
// entry expires TTL after now.
func (c *Cache) Put(ctx context.Context, fingerprint string, claims map[string]any) error {
	if claims == nil {
		claims = map[string]any{}
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeCache, "claimscache: claims are not serializable")
	}
	entry := Entry{Payload: payload, ExpiresAt: c.now().UTC().Add(c.ttl)}
	if err := c.store.Put(ctx, fingerprint, entry); err != nil {
		return sserr.Wrap(err, sserr.CodeCache, "claimscache: write failed")
	}
	return nil
}

// TTL reports the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// NullStore never holds anything.
type NullStore struct{}

func (NullStore) Get(context.Context, string) (*Entry, bool, error) { return nil, false, nil }
func (NullStore) Put(context.Context, string, Entry) error          { return nil }
