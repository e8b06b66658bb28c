package authz

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// genToken captures the cache generations observed before a relational
// lookup started. Put rejects entries whose token is stale, closing the
// write-after-invalidate race: a slow lookup that began before a revoke can
// never repopulate the cache after the revoke's invalidation ran.
type genToken struct {
	global   uint64
	actor    uint64
	resource uint64
}

type entry struct {
	value       bool
	expiresAt   time.Time
	resourceKey string
	token       genToken
}

// DecisionCache memoizes boolean authorization decisions. Reads hit a
// size-bounded LRU without touching the generation lock unless an entry is
// found; invalidation bumps generations, making every dependent entry
// unreadable at once without scanning the LRU.
type DecisionCache struct {
	lru *lru.Cache[CheckKey, entry]
	ttl time.Duration

	mu           sync.RWMutex
	globalGen    uint64
	actorGens    map[uuid.UUID]uint64
	resourceGens map[string]uint64

	now func() time.Time
}

// NewDecisionCache creates a cache holding up to size decisions for at most
// ttl each.
func NewDecisionCache(size int, ttl time.Duration) (*DecisionCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache TTL must be positive, got %s", ttl)
	}
	cache, err := lru.New[CheckKey, entry](size)
	if err != nil {
		return nil, fmt.Errorf("create decision cache: %w", err)
	}
	return &DecisionCache{
		lru:          cache,
		ttl:          ttl,
		actorGens:    make(map[uuid.UUID]uint64),
		resourceGens: make(map[string]uint64),
		now:          time.Now,
	}, nil
}

// Snapshot records the current generations for the given actor and resource.
// Callers take a snapshot before the relational lookup and pass it to Put.
func (c *DecisionCache) Snapshot(actorID uuid.UUID, resourceKey string) genToken {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokenLocked(actorID, resourceKey)
}

// Get returns the cached decision if present, unexpired, and not
// invalidated since it was stored.
func (c *DecisionCache) Get(key CheckKey) (bool, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return false, false
	}
	if c.now().After(e.expiresAt) {
		c.lru.Remove(key)
		return false, false
	}

	c.mu.RLock()
	current := c.tokenLocked(key.ActorID, e.resourceKey)
	c.mu.RUnlock()
	if current != e.token {
		c.lru.Remove(key)
		return false, false
	}
	return e.value, true
}

// Put stores a decision unless the generations moved since the snapshot was
// taken, in which case the value is discarded as potentially stale.
func (c *DecisionCache) Put(key CheckKey, resourceKey string, value bool, token genToken) {
	c.mu.RLock()
	current := c.tokenLocked(key.ActorID, resourceKey)
	c.mu.RUnlock()
	if current != token {
		return // invalidated mid-lookup
	}
	c.lru.Add(key, entry{
		value:       value,
		expiresAt:   c.now().Add(c.ttl),
		resourceKey: resourceKey,
		token:       token,
	})
}

// InvalidateActor drops every cached decision for the actor.
func (c *DecisionCache) InvalidateActor(actorID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actorGens[actorID]++
}

// InvalidateResource drops every cached ownership decision for the resource.
func (c *DecisionCache) InvalidateResource(resourceKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resourceGens[resourceKey]++
}

// Clear drops everything.
func (c *DecisionCache) Clear() {
	c.mu.Lock()
	c.globalGen++
	c.actorGens = make(map[uuid.UUID]uint64)
	c.resourceGens = make(map[string]uint64)
	c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of resident entries, including ones invalidated
// but not yet evicted.
func (c *DecisionCache) Len() int {
	return c.lru.Len()
}

func (c *DecisionCache) tokenLocked(actorID uuid.UUID, resourceKey string) genToken {
	t := genToken{global: c.globalGen, actor: c.actorGens[actorID]}
	if resourceKey != "" {
		t.resource = c.resourceGens[resourceKey]
	}
	return t
}
