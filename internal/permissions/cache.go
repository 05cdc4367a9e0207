package permissions

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nateliu28/querydeck/pkg/metrics"
)

// Cache region names, one per query shape so sizing and statistics stay
// independent.
const (
	RegionTable  = "table"
	RegionColumn = "column"
	RegionDelete = "delete"
)

const (
	// DefaultCacheTTL bounds how long a decision may be served without
	// re-resolving.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultCacheEntries bounds entries per region.
	DefaultCacheEntries = 1000
)

// CacheConfig sizes the decision cache.
type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// CacheStats reports counters for one region.
type CacheStats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

type cacheEntry struct {
	key       string
	decision  Decision
	expiresAt time.Time
}

// cacheRegion is an LRU with per-entry TTL. Each region has its own lock so
// hot table checks never contend with column checks.
type cacheRegion struct {
	mu        sync.Mutex
	name      string
	max       int
	ttl       time.Duration
	entries   map[string]*list.Element
	order     *list.List // front = most recently used
	hits      uint64
	misses    uint64
	evictions uint64
	now       func() time.Time
}

func newCacheRegion(name string, cfg CacheConfig, now func() time.Time) *cacheRegion {
	return &cacheRegion{
		name:    name,
		max:     cfg.MaxEntries,
		ttl:     cfg.TTL,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     now,
	}
}

func (r *cacheRegion) get(key string) (Decision, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.entries[key]
	if !ok {
		r.misses++
		metrics.DecisionCacheOps.WithLabelValues(r.name, "miss").Inc()
		return Decision{}, false
	}

	entry := elem.Value.(*cacheEntry)
	if r.now().After(entry.expiresAt) {
		r.removeLocked(elem)
		r.misses++
		metrics.DecisionCacheOps.WithLabelValues(r.name, "miss").Inc()
		return Decision{}, false
	}

	r.order.MoveToFront(elem)
	r.hits++
	metrics.DecisionCacheOps.WithLabelValues(r.name, "hit").Inc()
	return entry.decision, true
}

func (r *cacheRegion) put(key string, decision Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, ok := r.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.decision = decision
		entry.expiresAt = r.now().Add(r.ttl)
		r.order.MoveToFront(elem)
		return
	}

	for r.order.Len() >= r.max {
		oldest := r.order.Back()
		if oldest == nil {
			break
		}
		r.removeLocked(oldest)
		r.evictions++
		metrics.DecisionCacheOps.WithLabelValues(r.name, "evict").Inc()
	}

	entry := &cacheEntry{key: key, decision: decision, expiresAt: r.now().Add(r.ttl)}
	r.entries[key] = r.order.PushFront(entry)
}

func (r *cacheRegion) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(r.entries, entry.key)
	r.order.Remove(elem)
}

func (r *cacheRegion) invalidatePrefix(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, elem := range r.entries {
		if strings.HasPrefix(key, prefix) {
			r.removeLocked(elem)
		}
	}
}

func (r *cacheRegion) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]*list.Element)
	r.order.Init()
}

func (r *cacheRegion) stats() CacheStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return CacheStats{
		Entries:   r.order.Len(),
		Hits:      r.hits,
		Misses:    r.misses,
		Evictions: r.evictions,
	}
}

// DecisionCache memoizes resolver decisions in named, bounded regions.
// It is an optimization layer only and must never be treated as
// authoritative: grant mutations call the invalidation hooks before the next
// resolution may be served.
type DecisionCache struct {
	regions map[string]*cacheRegion
}

// NewDecisionCache builds a cache with one region per query shape.
func NewDecisionCache(cfg CacheConfig) *DecisionCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheEntries
	}

	now := time.Now
	return &DecisionCache{
		regions: map[string]*cacheRegion{
			RegionTable:  newCacheRegion(RegionTable, cfg, now),
			RegionColumn: newCacheRegion(RegionColumn, cfg, now),
			RegionDelete: newCacheRegion(RegionDelete, cfg, now),
		},
	}
}

// regionFor routes a request to its region: column checks, delete checks,
// everything else under table.
func (c *DecisionCache) regionFor(req Request) *cacheRegion {
	switch {
	case req.ColumnName != "":
		return c.regions[RegionColumn]
	case req.Type == TypeDelete:
		return c.regions[RegionDelete]
	default:
		return c.regions[RegionTable]
	}
}

// Get returns a memoized decision for the request, if fresh.
func (c *DecisionCache) Get(req Request) (Decision, bool) {
	return c.regionFor(req).get(req.CacheKey())
}

// Put memoizes a decision for the request tuple.
func (c *DecisionCache) Put(req Request, decision Decision) {
	c.regionFor(req).put(req.CacheKey(), decision)
}

// InvalidateUserConnection evicts every cached decision for the pair across
// all regions. Keys are prefixed by user and connection, so the prefix scan
// is exact.
func (c *DecisionCache) InvalidateUserConnection(userID, connectionID string) {
	prefix := userID + "\x1f" + connectionID + "\x1f"
	for _, region := range c.regions {
		region.invalidatePrefix(prefix)
	}
}

// Clear drops every region. Used when an invalidation key is ambiguous;
// correctness beats hit-rate.
func (c *DecisionCache) Clear() {
	for _, region := range c.regions {
		region.clear()
	}
}

// Stats reports per-region counters.
func (c *DecisionCache) Stats() map[string]CacheStats {
	out := make(map[string]CacheStats, len(c.regions))
	for name, region := range c.regions {
		out[name] = region.stats()
	}
	return out
}

// CachedResolver composes the decision cache in front of a resolver.
type CachedResolver struct {
	inner DecisionResolver
	cache *DecisionCache
}

// NewCachedResolver wraps the resolver with the cache.
func NewCachedResolver(inner DecisionResolver, cache *DecisionCache) (*CachedResolver, error) {
	if inner == nil {
		return nil, errNilResolver
	}
	if cache == nil {
		cache = NewDecisionCache(CacheConfig{})
	}
	return &CachedResolver{inner: inner, cache: cache}, nil
}

// Resolve serves from the cache when possible; resolution errors are never
// cached.
func (c *CachedResolver) Resolve(ctx context.Context, req Request) (Decision, error) {
	if err := req.Validate(); err != nil {
		return Decision{}, err
	}

	if decision, ok := c.cache.Get(req); ok {
		return decision, nil
	}

	decision, err := c.inner.Resolve(ctx, req)
	if err != nil {
		return Decision{}, err
	}

	c.cache.Put(req, decision)
	return decision, nil
}

// InvalidateUserConnection forwards to the underlying cache.
func (c *CachedResolver) InvalidateUserConnection(userID, connectionID string) {
	c.cache.InvalidateUserConnection(userID, connectionID)
}

// Cache exposes the underlying cache for stats endpoints.
func (c *CachedResolver) Cache() *DecisionCache {
	return c.cache
}
