package authz

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *DecisionCache {
	t.Helper()
	cache, err := NewDecisionCache(128, 5*time.Minute)
	require.NoError(t, err)
	return cache
}

func permKey(actorID uuid.UUID, permission string) CheckKey {
	return CheckKey{ActorID: actorID, Kind: CheckPermission, Key: permission}
}

func TestDecisionCache_PutGet(t *testing.T) {
	cache := newTestCache(t)
	actorID := uuid.New()
	key := permKey(actorID, "POST_CREATE")

	_, ok := cache.Get(key)
	require.False(t, ok, "empty cache misses")

	token := cache.Snapshot(actorID, "")
	cache.Put(key, "", true, token)

	v, ok := cache.Get(key)
	require.True(t, ok)
	assert.True(t, v)
}

func TestDecisionCache_CachesNegativeDecisions(t *testing.T) {
	cache := newTestCache(t)
	actorID := uuid.New()
	key := permKey(actorID, "POST_DELETE")

	cache.Put(key, "", false, cache.Snapshot(actorID, ""))

	v, ok := cache.Get(key)
	require.True(t, ok, "denials are memoized too")
	assert.False(t, v)
}

func TestDecisionCache_TTLExpiry(t *testing.T) {
	cache, err := NewDecisionCache(16, time.Minute)
	require.NoError(t, err)

	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	actorID := uuid.New()
	key := permKey(actorID, "POST_CREATE")
	cache.Put(key, "", true, cache.Snapshot(actorID, ""))

	_, ok := cache.Get(key)
	require.True(t, ok)

	clock = clock.Add(2 * time.Minute)
	_, ok = cache.Get(key)
	assert.False(t, ok, "expired entries are dropped on read")
}

func TestDecisionCache_InvalidateActor(t *testing.T) {
	cache := newTestCache(t)
	alice, mallory := uuid.New(), uuid.New()

	cache.Put(permKey(alice, "POST_CREATE"), "", true, cache.Snapshot(alice, ""))
	cache.Put(permKey(mallory, "POST_CREATE"), "", true, cache.Snapshot(mallory, ""))

	cache.InvalidateActor(alice)

	_, ok := cache.Get(permKey(alice, "POST_CREATE"))
	assert.False(t, ok, "invalidated actor misses")
	_, ok = cache.Get(permKey(mallory, "POST_CREATE"))
	assert.True(t, ok, "other actors unaffected")
}

func TestDecisionCache_InvalidateResource(t *testing.T) {
	cache := newTestCache(t)
	actorID := uuid.New()
	resourceKey := ResourceKey(ResourcePost, "42")
	key := CheckKey{ActorID: actorID, Kind: CheckOwnership, Key: resourceKey}

	cache.Put(key, resourceKey, true, cache.Snapshot(actorID, resourceKey))
	cache.InvalidateResource(resourceKey)

	_, ok := cache.Get(key)
	assert.False(t, ok)
}

func TestDecisionCache_Clear(t *testing.T) {
	cache := newTestCache(t)
	actorID := uuid.New()
	key := permKey(actorID, "POST_CREATE")

	cache.Put(key, "", true, cache.Snapshot(actorID, ""))
	cache.Clear()

	_, ok := cache.Get(key)
	assert.False(t, ok)
	assert.Zero(t, cache.Len())
}

func TestDecisionCache_StaleTokenRejected(t *testing.T) {
	// A lookup that started before a revoke must not repopulate the cache
	// after the revoke's invalidation ran.
	cache := newTestCache(t)
	actorID := uuid.New()
	key := permKey(actorID, "POST_CREATE")

	token := cache.Snapshot(actorID, "")
	cache.InvalidateActor(actorID) // revoke lands mid-lookup
	cache.Put(key, "", true, token)

	_, ok := cache.Get(key)
	assert.False(t, ok, "stale write discarded")
}

func TestDecisionCache_StaleResourceTokenRejected(t *testing.T) {
	cache := newTestCache(t)
	actorID := uuid.New()
	resourceKey := ResourceKey(ResourcePost, "42")
	key := CheckKey{ActorID: actorID, Kind: CheckOwnership, Key: resourceKey}

	token := cache.Snapshot(actorID, resourceKey)
	cache.InvalidateResource(resourceKey)
	cache.Put(key, resourceKey, true, token)

	_, ok := cache.Get(key)
	assert.False(t, ok)
}

func TestNewDecisionCache_RejectsBadConfig(t *testing.T) {
	_, err := NewDecisionCache(0, time.Minute)
	require.Error(t, err)
	_, err = NewDecisionCache(16, 0)
	require.Error(t, err)
}
