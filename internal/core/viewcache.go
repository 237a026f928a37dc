package core

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ubtreetrack/treetrack/internal/metrics"
)

const (
	plantListKey    = "plants"
	plantDetailKeyP = "plant:"
)

// viewCache memoises read models between mutations. A negative TTL disables it.
type viewCache struct {
	cache   *cache.Cache
	metrics *metrics.Metrics
}

func newViewCache(ttl time.Duration, m *metrics.Metrics) *viewCache {
	if ttl < 0 {
		return &viewCache{metrics: m}
	}
	return &viewCache{cache: cache.New(ttl, 2*ttl), metrics: m}
}

func (v *viewCache) invalidate() {
	if v.cache == nil {
		return
	}
	v.cache.Flush()
}

func cached[T any](v *viewCache, key string, load func() (T, error)) (T, error) {
	return cachedIf(v, key, func(T) bool { return true }, load)
}

// cachedIf stores a loaded value only when keep accepts it.
func cachedIf[T any](v *viewCache, key string, keep func(T) bool, load func() (T, error)) (T, error) {
	if v.cache == nil {
		return load()
	}
	if value, found := v.cache.Get(key); found {
		if typed, ok := value.(T); ok {
			v.metrics.ObserveViewCache(true)
			return typed, nil
		}
	}
	v.metrics.ObserveViewCache(false)

	value, err := load()
	if err != nil || !keep(value) {
		return value, err
	}
	v.cache.SetDefault(key, value)
	return value, nil
}
