package permissions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheRegionLRUEviction(t *testing.T) {
	region := newCacheRegion("test", CacheConfig{TTL: time.Minute, MaxEntries: 2}, time.Now)

	region.put("a", Deny("a"))
	region.put("b", Deny("b"))
	_, ok := region.get("a") // touch a so b becomes least recently used
	require.True(t, ok)

	region.put("c", Deny("c"))

	_, ok = region.get("b")
	require.False(t, ok, "expected b to be evicted")
	_, ok = region.get("a")
	require.True(t, ok)
	_, ok = region.get("c")
	require.True(t, ok)

	stats := region.stats()
	require.Equal(t, 2, stats.Entries)
	require.EqualValues(t, 1, stats.Evictions)
}

func TestCacheRegionTTLExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	region := newCacheRegion("test", CacheConfig{TTL: time.Minute, MaxEntries: 10}, clock)

	region.put("a", Decision{Granted: true, Reason: "granted at table scope"})
	decision, ok := region.get("a")
	require.True(t, ok)
	require.True(t, decision.Granted)

	now = now.Add(2 * time.Minute)
	_, ok = region.get("a")
	require.False(t, ok, "expected entry to expire")
	require.Equal(t, 0, region.stats().Entries)
}

func TestDecisionCacheRegionRouting(t *testing.T) {
	cache := NewDecisionCache(CacheConfig{})

	tableReq := readReq("u1", "c1", "public", "users", "")
	columnReq := readReq("u1", "c1", "public", "users", "email")
	deleteReq := tableReq
	deleteReq.Type = TypeDelete

	cache.Put(tableReq, Deny("t"))
	cache.Put(columnReq, Deny("c"))
	cache.Put(deleteReq, Deny("d"))

	stats := cache.Stats()
	require.Equal(t, 1, stats[RegionTable].Entries)
	require.Equal(t, 1, stats[RegionColumn].Entries)
	require.Equal(t, 1, stats[RegionDelete].Entries)
}

func TestDecisionCacheInvalidateUserConnection(t *testing.T) {
	cache := NewDecisionCache(CacheConfig{})

	cache.Put(readReq("u1", "c1", "public", "users", ""), Decision{Granted: true})
	cache.Put(readReq("u1", "c2", "public", "users", ""), Decision{Granted: true})
	cache.Put(readReq("u2", "c1", "public", "users", ""), Decision{Granted: true})

	cache.InvalidateUserConnection("u1", "c1")

	_, ok := cache.Get(readReq("u1", "c1", "public", "users", ""))
	require.False(t, ok)
	_, ok = cache.Get(readReq("u1", "c2", "public", "users", ""))
	require.True(t, ok)
	_, ok = cache.Get(readReq("u2", "c1", "public", "users", ""))
	require.True(t, ok)
}

func TestCachedResolverServesFreshDecisionAfterRevocation(t *testing.T) {
	db, resolver := newTestResolver(t)
	store, err := NewGrantStore(db)
	require.NoError(t, err)

	cached, err := NewCachedResolver(resolver, NewDecisionCache(CacheConfig{}))
	require.NoError(t, err)

	ctx := context.Background()
	grant := seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeTable, pType: TypeRead, schema: "public", table: "users", granted: true})

	req := readReq("u1", "c1", "public", "users", "")
	decision, err := cached.Resolve(ctx, req)
	require.NoError(t, err)
	require.True(t, decision.Granted)

	_, err = store.Revoke(ctx, grant.ID, "admin-1")
	require.NoError(t, err)

	// Without invalidation the stale allow would still be served.
	decision, err = cached.Resolve(ctx, req)
	require.NoError(t, err)
	require.True(t, decision.Granted, "stale hit expected before invalidation")

	cached.InvalidateUserConnection("u1", "c1")

	decision, err = cached.Resolve(ctx, req)
	require.NoError(t, err)
	require.False(t, decision.Granted)
}

func TestCachedResolverDoesNotCacheErrors(t *testing.T) {
	_, resolver := newTestResolver(t)
	cached, err := NewCachedResolver(resolver, NewDecisionCache(CacheConfig{}))
	require.NoError(t, err)

	bad := Request{UserID: "u1", ConnectionID: "c1", Type: TypeRead, ColumnName: "email"}
	_, err = cached.Resolve(context.Background(), bad)
	require.ErrorIs(t, err, ErrInvalidCoordinates)

	stats := cached.Cache().Stats()
	for name, regionStats := range stats {
		require.Equal(t, 0, regionStats.Entries, fmt.Sprintf("region %s should be empty", name))
	}
}
