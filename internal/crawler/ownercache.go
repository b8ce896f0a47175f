package crawler

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/sells-group/insider-cli/internal/model"
)

// OwnerIndexCache keeps recently fetched owner indexes in memory, keyed by
// issuer CIK. Alongside each index it remembers former owners: names seen in
// the issuer's history that the freshly fetched index did not list.
type OwnerIndexCache struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

type ownerEntry struct {
	owners model.OwnerIndex
	former map[string]struct{}
}

// NewOwnerIndexCache creates a cache whose entries expire after ttl.
func NewOwnerIndexCache(ttl time.Duration) *OwnerIndexCache {
	return &OwnerIndexCache{
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Get returns a copy of the cached index for entityID.
func (c *OwnerIndexCache) Get(entityID string) (model.OwnerIndex, bool) {
	if c == nil {
		return nil, false
	}
	val, found := c.cache.Get(entityID)
	if !found {
		return nil, false
	}
	return cloneIndex(val.(ownerEntry).owners), true
}

// Set stores a copy of idx for entityID with the default TTL. Former owners
// recorded against the previous index are forgotten.
func (c *OwnerIndexCache) Set(entityID string, idx model.OwnerIndex) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Set(entityID, ownerEntry{owners: cloneIndex(idx)}, gocache.DefaultExpiration)
}

// MarkFormer records names as former owners of entityID. The entry keeps its
// expiry; nothing is recorded when no index is cached.
func (c *OwnerIndexCache) MarkFormer(entityID string, names []string) {
	if c == nil || len(names) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	val, exp, found := c.cache.GetWithExpiration(entityID)
	if !found {
		return
	}
	ttl := gocache.NoExpiration
	if !exp.IsZero() {
		if ttl = time.Until(exp); ttl <= 0 {
			return
		}
	}

	entry := val.(ownerEntry)
	former := make(map[string]struct{}, len(entry.former)+len(names))
	for name := range entry.former {
		former[name] = struct{}{}
	}
	for _, name := range names {
		former[name] = struct{}{}
	}
	c.cache.Set(entityID, ownerEntry{owners: entry.owners, former: former}, ttl)
}

// Unknown returns the names not recorded as former owners of entityID.
func (c *OwnerIndexCache) Unknown(entityID string, names []string) []string {
	var former map[string]struct{}
	if c != nil {
		if val, found := c.cache.Get(entityID); found {
			former = val.(ownerEntry).former
		}
	}
	var out []string
	for _, name := range names {
		if _, ok := former[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// Invalidate drops the cached index for entityID.
func (c *OwnerIndexCache) Invalidate(entityID string) {
	if c == nil {
		return
	}
	c.cache.Delete(entityID)
}

func cloneIndex(idx model.OwnerIndex) model.OwnerIndex {
	out := make(model.OwnerIndex, len(idx))
	for k, v := range idx {
		out[k] = v
	}
	return out
}
