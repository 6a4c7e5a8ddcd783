package enrollment

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// AggregateCache fronts the event store's replay cost with an in-memory
// tier and a short-TTL Redis tier, mirroring this stack's
// in-memory-then-Redis-then-durable-store read path for hot aggregates.
// Entries are invalidated rather than updated in place whenever the
// coordinator commits a new event for a stream, so a cache miss always
// falls through to a fresh replay.
type AggregateCache struct {
	redis *redis.Client
	ttl   time.Duration

	mu        sync.RWMutex
	students  map[string]StudentAggregate
	sections  map[string]SectionAggregate
}

// NewAggregateCache builds a cache fronting rdb with the given short TTL.
// rdb may be nil, in which case the cache degrades to in-memory only
// (useful for tests and for a single-process deployment with no Redis).
func NewAggregateCache(rdb *redis.Client, ttl time.Duration) *AggregateCache {
	return &AggregateCache{
		redis:    rdb,
		ttl:      ttl,
		students: make(map[string]StudentAggregate),
		sections: make(map[string]SectionAggregate),
	}
}

func studentCacheKey(studentID string) string { return "enrollment:student:" + studentID }
func sectionCacheKey(sectionID string) string { return "enrollment:section:" + sectionID }

// GetStudent returns a cached StudentAggregate and true if present and not
// yet evicted, checking the in-memory tier first and Redis second.
func (c *AggregateCache) GetStudent(ctx context.Context, studentID string) (StudentAggregate, bool) {
	c.mu.RLock()
	if agg, ok := c.students[studentID]; ok {
		c.mu.RUnlock()
		return agg, true
	}
	c.mu.RUnlock()

	if c.redis == nil {
		return StudentAggregate{}, false
	}
	raw, err := c.redis.Get(ctx, studentCacheKey(studentID)).Result()
	if err != nil {
		return StudentAggregate{}, false
	}
	var agg StudentAggregate
	if json.Unmarshal([]byte(raw), &agg) != nil {
		return StudentAggregate{}, false
	}

	c.mu.Lock()
	c.students[studentID] = agg
	c.mu.Unlock()
	return agg, true
}

// PutStudent stores agg in both cache tiers.
func (c *AggregateCache) PutStudent(ctx context.Context, agg StudentAggregate) {
	c.mu.Lock()
	c.students[agg.StudentID] = agg
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	if raw, err := json.Marshal(agg); err == nil {
		c.redis.Set(ctx, studentCacheKey(agg.StudentID), raw, c.ttl)
	}
}

// InvalidateStudent evicts a student's cached aggregate from both tiers,
// called whenever the coordinator commits a new event to that stream.
func (c *AggregateCache) InvalidateStudent(ctx context.Context, studentID string) {
	c.mu.Lock()
	delete(c.students, studentID)
	c.mu.Unlock()

	if c.redis != nil {
		c.redis.Del(ctx, studentCacheKey(studentID))
	}
}

// GetSection mirrors GetStudent for section aggregates.
func (c *AggregateCache) GetSection(ctx context.Context, sectionID string) (SectionAggregate, bool) {
	c.mu.RLock()
	if agg, ok := c.sections[sectionID]; ok {
		c.mu.RUnlock()
		return agg, true
	}
	c.mu.RUnlock()

	if c.redis == nil {
		return SectionAggregate{}, false
	}
	raw, err := c.redis.Get(ctx, sectionCacheKey(sectionID)).Result()
	if err != nil {
		return SectionAggregate{}, false
	}
	var agg SectionAggregate
	if json.Unmarshal([]byte(raw), &agg) != nil {
		return SectionAggregate{}, false
	}

	c.mu.Lock()
	c.sections[sectionID] = agg
	c.mu.Unlock()
	return agg, true
}

// PutSection mirrors PutStudent for section aggregates.
func (c *AggregateCache) PutSection(ctx context.Context, agg SectionAggregate) {
	c.mu.Lock()
	c.sections[agg.SectionID] = agg
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	if raw, err := json.Marshal(agg); err == nil {
		c.redis.Set(ctx, sectionCacheKey(agg.SectionID), raw, c.ttl)
	}
}

// InvalidateSection mirrors InvalidateStudent for section aggregates.
func (c *AggregateCache) InvalidateSection(ctx context.Context, sectionID string) {
	c.mu.Lock()
	delete(c.sections, sectionID)
	c.mu.Unlock()

	if c.redis != nil {
		c.redis.Del(ctx, sectionCacheKey(sectionID))
	}
}
