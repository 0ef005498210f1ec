package eventcache

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"qcbridge/internal/model"
)

// QueryCache is a small bounded LRU of recent query results, keyed by a
// canonicalized form of the query (spec §4.3). Entries expire after a
// fixed TTL even if they remain in the LRU's recency order.
type QueryCache struct {
	mu    sync.Mutex
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	groupIDs map[string]struct{}
	results  []model.ChangeEvent
	storedAt time.Time
}

// NewQueryCache creates a QueryCache with the given capacity (default 100
// when capacity <= 0) and TTL (default 5s when ttl <= 0).
func NewQueryCache(capacity int, ttl time.Duration) *QueryCache {
	if capacity <= 0 {
		capacity = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	c, _ := lru.New(capacity)
	return &QueryCache{cache: c, ttl: ttl, now: time.Now}
}

// Canonicalize builds a stable cache key from a Query: sorted group IDs,
// sorted control names and fields serialized in a fixed field order.
func Canonicalize(q Query) string {
	names := append([]string(nil), q.ControlNames...)
	sort.Strings(names)
	groups := append([]string(nil), q.GroupIDs...)
	sort.Strings(groups)
	var b strings.Builder
	b.WriteString("groups=")
	b.WriteString(strings.Join(groups, ","))
	b.WriteString("|from=")
	b.WriteString(q.From.UTC().Format(time.RFC3339Nano))
	b.WriteString("|to=")
	b.WriteString(q.To.UTC().Format(time.RFC3339Nano))
	b.WriteString("|names=")
	b.WriteString(strings.Join(names, ","))
	b.WriteString("|pred=")
	b.WriteString(q.Predicate.canonical())
	b.WriteString("|order=")
	b.WriteString(string(q.OrderBy))
	b.WriteString("|agg=")
	b.WriteString(string(q.Aggregation))
	b.WriteString("|limit=")
	b.WriteString(strconv.Itoa(q.Limit))
	b.WriteString("|offset=")
	b.WriteString(strconv.Itoa(q.Offset))
	return b.String()
}

// Get returns a cached result set for key, if present and not expired.
func (c *QueryCache) Get(key string) ([]model.ChangeEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	entry := v.(cacheEntry)
	if c.now().Sub(entry.storedAt) > c.ttl {
		c.cache.Remove(key)
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.results, true
}

// Put stores a result set under key, tagged with the set of group ids it
// touches so InvalidateGroup can find it later.
func (c *QueryCache) Put(key string, groupIDs []string, results []model.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := make(map[string]struct{}, len(groupIDs))
	for _, g := range groupIDs {
		set[g] = struct{}{}
	}
	c.cache.Add(key, cacheEntry{groupIDs: set, results: results, storedAt: c.now()})
}

// InvalidateGroup removes every cached entry tagged with groupID. Called
// whenever a group receives new events (spec §4.3).
func (c *QueryCache) InvalidateGroup(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.cache.Keys() {
		v, ok := c.cache.Peek(k)
		if !ok {
			continue
		}
		entry := v.(cacheEntry)
		if _, tagged := entry.groupIDs[groupID]; tagged {
			c.cache.Remove(k)
		}
	}
}

// Purge discards every cached entry, regardless of tag. Used when a long
// reconnect makes the whole cache's provenance suspect.
func (c *QueryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}

// Stats reports cache effectiveness.
type CacheStats struct {
	Hits    uint64
	Misses  uint64
	HitRate float64
	Size    int
}

func (c *QueryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return CacheStats{Hits: c.hits, Misses: c.misses, HitRate: rate, Size: c.cache.Len()}
}
