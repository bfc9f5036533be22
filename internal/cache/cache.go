package cache

import (
	"slices"
	"sync"

	"github.com/modsync/vehicle/pkg/core"
)

// ObjectCache holds the live objects of a party. The tick loop mutates it;
// status sampling reads it from another goroutine.
type ObjectCache[V any] struct {
	m       sync.RWMutex
	objects map[core.ObjectID]V
}

func NewObjectCache[V any]() *ObjectCache[V] {
	return &ObjectCache[V]{
		objects: make(map[core.ObjectID]V),
	}
}

func (c *ObjectCache[V]) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.objects = make(map[core.ObjectID]V)
}

// Add stores v under id unless the id is taken. It reports whether v was stored.
func (c *ObjectCache[V]) Add(id core.ObjectID, v V) bool {
	c.m.Lock()
	defer c.m.Unlock()
	if _, ok := c.objects[id]; ok {
		return false
	}
	c.objects[id] = v
	return true
}

func (c *ObjectCache[V]) Get(id core.ObjectID) (V, bool) {
	c.m.RLock()
	defer c.m.RUnlock()
	v, ok := c.objects[id]
	return v, ok
}

// Delete removes id and returns what was stored.
func (c *ObjectCache[V]) Delete(id core.ObjectID) (V, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	v, ok := c.objects[id]
	delete(c.objects, id)
	return v, ok
}

func (c *ObjectCache[V]) Len() int {
	c.m.RLock()
	defer c.m.RUnlock()
	return len(c.objects)
}

// IDs returns the cached ids in ascending order, so every party walks its
// objects in the same order.
func (c *ObjectCache[V]) IDs() []core.ObjectID {
	c.m.RLock()
	ids := make([]core.ObjectID, 0, len(c.objects))
	for id := range c.objects {
		ids = append(ids, id)
	}
	c.m.RUnlock()
	slices.Sort(ids)
	return ids
}

// SafeCounter is a thread-safe counter
type SafeCounter struct {
	mu sync.Mutex
	v  uint64
}

func (c *SafeCounter) Value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *SafeCounter) Set(v uint64) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

func (c *SafeCounter) Add(n uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v += n
	return c.v
}

func (c *SafeCounter) Inc() uint64 {
	return c.Add(1)
}
