package claimscache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

// DefaultMaxEntries bounds a MemoryStore when no size is given.
const DefaultMaxEntries = 10000

// MemoryStore is an in-process, size-bounded LRU store. Expired entries
// are removed when read. It is safe for concurrent use.
type MemoryStore struct {
	entries *lru.Cache[string, Entry]
	now     func() time.Time
}

// NewMemoryStore returns a store holding at most maxEntries entries.
// now may be nil.
func NewMemoryStore(maxEntries int, now func() time.Time) (*MemoryStore, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if now == nil {
		now = time.Now
	}
	entries, err := lru.New[string, Entry](maxEntries)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeConfiguration, "claimscache: cannot create memory store")
	}
	return &MemoryStore{entries: entries, now: now}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	entry, ok := s.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(entry.ExpiresAt) {
		s.entries.Remove(key)
		return nil, false, nil
	}
	return &entry, true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, entry Entry) error {
	s.entries.Add(key, entry)
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int { return s.entries.Len() }
