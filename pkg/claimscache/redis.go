package claimscache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/StricklySoft/stricklysoft-claims/pkg/clients/redis"
)

// DefaultKeyPrefix namespaces claims cache keys in a shared Redis.
const DefaultKeyPrefix = "claims:"

// RedisClient is the part of [redis.Client] the store uses.
type RedisClient interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
}

var _ RedisClient = (*redis.Client)(nil)

// RedisStore keeps entries in Redis with a native expiry equal to the
// entry's remaining lifetime, so the server evicts them on its own.
type RedisStore struct {
	client RedisClient
	prefix string
	now    func() time.Time
}

// NewRedisStore returns a store writing keys as prefix+fingerprint. An
// empty prefix uses [DefaultKeyPrefix]; now may be nil.
func NewRedisStore(client RedisClient, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{client: client, prefix: prefix, now: now}
}

// redisEntry is the stored encoding of an Entry.
type redisEntry struct {
	Payload   []byte    `json:"payload"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key)
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var stored redisEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, false, err
	}
	if !s.now().Before(stored.ExpiresAt) {
		return nil, false, nil
	}
	return &Entry{Payload: stored.Payload, ExpiresAt: stored.ExpiresAt}, true, nil
}

// Put writes entry with a PX expiry. An entry that has already expired is
// not written.
func (s *RedisStore) Put(ctx context.Context, key string, entry Entry) error {
	ttl := entry.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(redisEntry{Payload: entry.Payload, ExpiresAt: entry.ExpiresAt.UTC()})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, data, ttl)
}
