package cache

import (
	"maps"
	"sync"

	"github.com/modsync/vehicle/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// ObserverCache maps parties to their last tracked position.
type ObserverCache struct {
	mu        sync.RWMutex
	positions map[core.PartyID]geom.Point
}

// NewObserverCache creates a new ObserverCache
func NewObserverCache() *ObserverCache {
	return &ObserverCache{
		positions: make(map[core.PartyID]geom.Point),
	}
}

// Get retrieves a party's position
func (c *ObserverCache) Get(p core.PartyID) (geom.Point, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pt, ok := c.positions[p]
	return pt, ok
}

// Set stores a party's position
func (c *ObserverCache) Set(p core.PartyID, pt geom.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[p] = pt
}

// Delete forgets a party
func (c *ObserverCache) Delete(p core.PartyID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.positions, p)
}

// All returns a copy of every tracked position.
func (c *ObserverCache) All() map[core.PartyID]geom.Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.positions)
}

// Reset clears all tracked positions
func (c *ObserverCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions = make(map[core.PartyID]geom.Point)
}
