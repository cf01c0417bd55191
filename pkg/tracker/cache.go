package tracker

import (
	"sync"

	"github.com/dmitrymomot/meter/pkg/entitlement"
)

// MirrorCache keeps the last mirror for an instant first paint.
type MirrorCache interface {
	Load(feature entitlement.FeatureID) (Mirror, bool)
	Store(m Mirror)
}

// MemoryCache is an in-process MirrorCache.
type MemoryCache struct {
	mu      sync.RWMutex
	mirrors map[entitlement.FeatureID]Mirror
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{mirrors: make(map[entitlement.FeatureID]Mirror)}
}

func (c *MemoryCache) Load(feature entitlement.FeatureID) (Mirror, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.mirrors[feature]
	return m, ok
}

func (c *MemoryCache) Store(m Mirror) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mirrors[m.Feature] = m
}
