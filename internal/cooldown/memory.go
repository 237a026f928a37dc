package cooldown

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

type memoryStore struct {
	cache *cache.Cache
}

// NewMemoryStore keeps submissions in process memory; entries vanish on restart.
func NewMemoryStore(cleanupInterval time.Duration) Store {
	return &memoryStore{cache: cache.New(DefaultPeriod, cleanupInterval)}
}

func (m *memoryStore) LastSubmission(_ context.Context, key string) (time.Time, bool, error) {
	value, found := m.cache.Get(key)
	if !found {
		return time.Time{}, false, nil
	}
	at, ok := value.(time.Time)
	return at, ok, nil
}

func (m *memoryStore) RecordSubmission(_ context.Context, key string, at time.Time, ttl time.Duration) error {
	m.cache.Set(key, at, ttl)
	return nil
}
