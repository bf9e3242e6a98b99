package referral

import (
	"context"
	"sync"
	"time"
)

// BalanceCache holds dashboard balance snapshots. Misses and errors are never
// fatal: the aggregator falls back to a live read.
type BalanceCache interface {
	Get(ctx context.Context, userID AffiliateID) (Balance, bool, error)
	Set(ctx context.Context, userID AffiliateID, b Balance) error
	Invalidate(ctx context.Context, userIDs ...AffiliateID) error
}

// MemoryCache is a process-local BalanceCache with a fixed TTL.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[AffiliateID]cacheEntry
}

type cacheEntry struct {
	balance Balance
	expires time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[AffiliateID]cacheEntry),
	}
}

// WithClock replaces the time source. Used by tests.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) Get(_ context.Context, userID AffiliateID) (Balance, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok {
		return Balance{}, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, userID)
		return Balance{}, false, nil
	}
	return e.balance, true, nil
}

func (c *MemoryCache) Set(_ context.Context, userID AffiliateID, b Balance) error {
	if c.ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = cacheEntry{balance: b, expires: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, userIDs ...AffiliateID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		delete(c.entries, id)
	}
	return nil
}

// generations counts committed writes per user. A reader notes the count
// before a live read and caches its snapshot only if no write committed in
// between; writers bump the count before invalidating.
type generations struct {
	mu     sync.Mutex
	byUser map[AffiliateID]uint64
}

func newGenerations() *generations {
	return &generations{byUser: make(map[AffiliateID]uint64)}
}

func (g *generations) current(id AffiliateID) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.byUser[id]
}

func (g *generations) bump(ids ...AffiliateID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		g.byUser[id]++
	}
}

// ifUnchanged runs fn while holding the lock, so a bump cannot slip in
// between the check and the cache write.
func (g *generations) ifUnchanged(id AffiliateID, seen uint64, fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.byUser[id] != seen {
		return nil
	}
	return fn()
}
