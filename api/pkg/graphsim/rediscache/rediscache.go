// Package rediscache provides a Redis-backed graphsim.RequestCache so a
// traversal's memoized fetches can survive past one process (or be shared
// across a pool of workers), namespaced by a caller-supplied traversal id
// so two concurrent traversals never see each other's cache entries.
//
// Follows the same TTL-keyed store pattern used elsewhere for
// request-scoped session state, backed by go-redis.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ehr/graphsim/pkg/graphsim"
)

// Store is a graphsim.RequestCache backed by Redis. All keys are
// namespaced "graphsim:cache:<traversalID>:<resourceType>/<id>" and carry
// TTL so an abandoned traversal's entries expire rather than accumulating
// forever.
type Store struct {
	client      *redis.Client
	traversalID string
	ttl         time.Duration
}

// New builds a Store scoped to one traversal id. ttl <= 0 means entries
// never expire (the caller is responsible for eventually calling Clear).
func New(client *redis.Client, traversalID string, ttl time.Duration) *Store {
	return &Store{client: client, traversalID: traversalID, ttl: ttl}
}

func (s *Store) key(resourceType, resourceID string) string {
	return fmt.Sprintf("graphsim:cache:%s:%s/%s", s.traversalID, resourceType, resourceID)
}

// Get implements graphsim.RequestCache.
func (s *Store) Get(resourceType, resourceID string) (*graphsim.CacheEntry, bool) {
	ctx := context.Background()
	raw, err := s.client.Get(ctx, s.key(resourceType, resourceID)).Bytes()
	if err != nil {
		return nil, false
	}
	var entry graphsim.CacheEntry
	if jerr := json.Unmarshal(raw, &entry); jerr != nil {
		return nil, false
	}
	return &entry, true
}

// Add implements graphsim.RequestCache. Redis's SETNX gives us the
// idempotent first-write-wins semantics the interface requires without a
// separate lock.
func (s *Store) Add(entry graphsim.CacheEntry) bool {
	ctx := context.Background()
	raw, err := json.Marshal(entry)
	if err != nil {
		return false
	}
	ok, err := s.client.SetNX(ctx, s.key(entry.ResourceType, entry.ResourceID), raw, s.ttl).Result()
	return err == nil && ok
}

// Clear drops every key under this traversal's namespace.
func (s *Store) Clear() {
	ctx := context.Background()
	prefix := fmt.Sprintf("graphsim:cache:%s:*", s.traversalID)
	iter := s.client.Scan(ctx, 0, prefix, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		s.client.Del(ctx, keys...)
	}
}

// Stats is unsupported for a distributed cache shared across many
// goroutines/processes without a dedicated counter key; it always returns
// zero. Callers that need hit/miss telemetry should consult
// graphsim.Metrics instead, which is updated by the Walker regardless of
// which RequestCache backend is in use.
func (s *Store) Stats() (hits, misses int) {
	return 0, 0
}

var _ graphsim.RequestCache = (*Store)(nil)
