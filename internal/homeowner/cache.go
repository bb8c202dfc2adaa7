package homeowner

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/sells-group/warranty-intake/internal/model"
)

const candidatesKey = "homeowners"

// CachedSource memoizes a Source's candidate list for a short TTL so bursts
// of webhook deliveries do not each reload the full homeowner table.
type CachedSource struct {
	source Source
	cache  *gocache.Cache
	ttl    time.Duration
}

// NewCachedSource wraps source. A non-positive ttl disables caching.
func NewCachedSource(source Source, ttl time.Duration) *CachedSource {
	return &CachedSource{
		source: source,
		cache:  gocache.New(ttl, 2*ttl),
		ttl:    ttl,
	}
}

// ListHomeowners returns the cached candidate list, loading it on a miss.
func (c *CachedSource) ListHomeowners(ctx context.Context) ([]model.Homeowner, error) {
	if c.ttl <= 0 {
		return c.source.ListHomeowners(ctx)
	}
	if v, found := c.cache.Get(candidatesKey); found {
		return v.([]model.Homeowner), nil
	}

	list, err := c.source.ListHomeowners(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(candidatesKey, list, c.ttl)
	return list, nil
}

// Invalidate drops the cached list.
func (c *CachedSource) Invalidate() {
	c.cache.Flush()
}
