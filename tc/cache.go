package tc

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/galaxytx/galaxytx/store"
)

// GlobalCache is a bounded hot-path cache of recently-touched global
// transactions, avoiding a store round trip for every status query and
// phase-2 message on a busy coordinator.
type GlobalCache struct {
	inner *lru.Cache
}

// NewGlobalCache builds a cache holding up to size entries.
func NewGlobalCache(size int) *GlobalCache {
	c, err := lru.New(size)
	if err != nil {
		// size <= 0; fall back to a minimal cache rather than panic.
		c, _ = lru.New(1)
	}
	return &GlobalCache{inner: c}
}

// Get returns the cached global transaction, if present.
func (c *GlobalCache) Get(xid string) (*store.GlobalTransaction, bool) {
	v, ok := c.inner.Get(xid)
	if !ok {
		return nil, false
	}
	g := v.(store.GlobalTransaction)
	return &g, true
}

// Put caches or replaces the entry for g.XID.
func (c *GlobalCache) Put(g *store.GlobalTransaction) {
	c.inner.Add(g.XID, *g)
}

// Invalidate drops the cached entry for xid, called once a global
// transaction has committed or rolled back and won't be re-read on the
// hot path again; a CommitFailed or RollbackFailed entry stays cached.
func (c *GlobalCache) Invalidate(xid string) {
	c.inner.Remove(xid)
}
