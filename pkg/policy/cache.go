package policy

import (
	"context"
	"sync"
	"time"
)

// Store loads and persists policies by scope. A real deployment backs this
// with a relational store; tests may use an in-memory fake.
type Store interface {
	Load(ctx context.Context, scope Scope, scopeID string) (Policy, error)
	Save(ctx context.Context, p Policy) error
}

type cacheEntry struct {
	policy    Policy
	expiresAt time.Time
	token     int64 // invalidation token this entry was loaded under
}

// Cache is Aedituus's read-mostly policy cache: TTL as a safety net,
// invalidation-token driven for correctness on admin writes.
type Cache struct {
	mu      sync.Mutex
	store   Store
	ttl     time.Duration
	entries map[string]cacheEntry
	tokens  map[string]int64
}

// NewCache creates a Cache with the given default TTL.
func NewCache(store Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &Cache{store: store, ttl: ttl, entries: make(map[string]cacheEntry), tokens: make(map[string]int64)}
}

func scopeKey(scope Scope, scopeID string) string {
	return string(scope) + ":" + scopeID
}

// Get returns scope's policy, loading from Store on a cache miss, an expired
// TTL, or a stale invalidation token.
func (c *Cache) Get(ctx context.Context, scope Scope, scopeID string) (Policy, error) {
	key := scopeKey(scope, scopeID)

	c.mu.Lock()
	entry, ok := c.entries[key]
	token := c.tokens[key]
	c.mu.Unlock()

	if ok && entry.token == token && time.Now().Before(entry.expiresAt) {
		return entry.policy, nil
	}

	p, err := c.store.Load(ctx, scope, scopeID)
	if err != nil {
		return Policy{}, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{policy: p, expiresAt: time.Now().Add(c.ttl), token: c.tokens[key]}
	c.mu.Unlock()

	return p, nil
}

// Invalidate bumps scopeKey's invalidation token so the next Get reloads from
// Store regardless of remaining TTL. An empty scopeKey invalidates everything.
func (c *Cache) Invalidate(scopeKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if scopeKey == "" {
		c.tokens = make(map[string]int64)
		c.entries = make(map[string]cacheEntry)
		return
	}
	c.tokens[scopeKey]++
}
