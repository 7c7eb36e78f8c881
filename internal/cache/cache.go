// Package cache provides small in-memory TTL caches for backend detail
// lookups (task and requirement info by designator), so repeated agent
// queries inside one session do not re-hit the backend.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/taskwire/taskwire/internal/log"
)

const DefaultExpiration = 5 * time.Minute
const DefaultCleanupInterval = 15 * time.Minute

// Store is a typed wrapper over go-cache keyed by designator. The scope is
// only used for log attribution.
type Store[V any] struct {
	scope string
	ttl   time.Duration
	cache *gocache.Cache
}

func NewStore[V any](scope string, ttl, cleanupInterval time.Duration) *Store[V] {
	return &Store[V]{
		scope: scope,
		ttl:   ttl,
		cache: gocache.New(ttl, cleanupInterval),
	}
}

// Get retrieves a single entry.
func (s *Store[V]) Get(key string) (V, bool) {
	var zero V

	value, found := s.cache.Get(key)
	if !found {
		return zero, false
	}

	v, ok := value.(V)
	if !ok {
		log.Error(log.CatCache, "wrong type assertion when getting value", "scope", s.scope, "key", key)
		return zero, false
	}

	log.Debug(log.CatCache, "cache hit", "scope", s.scope, "key", key)

	return v, true
}

// GetMany splits keys into cached hits and misses, preserving the order of
// misses.
func (s *Store[V]) GetMany(keys []string) (map[string]V, []string) {
	hits := make(map[string]V, len(keys))
	var missing []string
	for _, key := range keys {
		v, ok := s.Get(key)
		if !ok {
			missing = append(missing, key)
			continue
		}
		hits[key] = v
	}
	return hits, missing
}

// Set stores a value under the store's default TTL.
func (s *Store[V]) Set(key string, value V) {
	s.cache.Set(key, value, s.ttl)
}

// SetAll stores every entry in one pass.
func (s *Store[V]) SetAll(values map[string]V) {
	for key, value := range values {
		s.Set(key, value)
	}
}

// Delete removes entries by key. Missing keys are ignored.
func (s *Store[V]) Delete(keys ...string) {
	for _, key := range keys {
		s.cache.Delete(key)
	}
}

// Flush drops everything, used when the session rebinds to another plan.
func (s *Store[V]) Flush() {
	s.cache.Flush()
}
