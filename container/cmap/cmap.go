package cmap

import (
	"maps"
	"sync"
)

// Default window size for tracking the length of the map over time.
const defaultWinSize = 16

// CMap is a RWMutex guarded map that re-allocates its storage after the
// population drops well below its recent average.
type CMap[K comparable, V any] struct {
	mu      sync.RWMutex
	data    map[K]V
	winLens []int
	winIdx  int
	winSize int
}

func New[K comparable, V any]() *CMap[K, V] {
	return &CMap[K, V]{
		data:    make(map[K]V),
		winLens: make([]int, defaultWinSize),
		winSize: defaultWinSize,
	}
}

func (c *CMap[K, V]) WithWinSize(size int) *CMap[K, V] {
	if size <= 0 {
		size = defaultWinSize
	}
	c.winSize = size
	c.winLens = make([]int, size)
	return c
}

func (c *CMap[K, V]) recordWinLen() {
	c.winLens[c.winIdx%c.winSize] = len(c.data)
	c.winIdx++
}

func (c *CMap[K, V]) avgWinLen() int {
	sum := 0
	for _, v := range c.winLens {
		sum += v
	}
	return sum / c.winSize
}

func (c *CMap[K, V]) maybeShrink() {
	c.recordWinLen()
	if avg := c.avgWinLen(); avg > 0 && len(c.data) > 0 && avg > len(c.data)*2 {
		newData := make(map[K]V, len(c.data))
		maps.Copy(newData, c.data)
		c.data = newData
	}
}

func (c *CMap[K, V]) Has(key K) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.data[key]
	return ok
}

func (c *CMap[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, exists := c.data[key]
	return value, exists
}

func (c *CMap[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = value
}

// SetIfAbsent stores value unless key is present. It returns the value now
// held under key and whether value was stored.
func (c *CMap[K, V]) SetIfAbsent(key K, value V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.data[key]; ok {
		return old, false
	}
	c.data[key] = value
	return value, true
}

// Swap stores value and returns the previous value, if any.
func (c *CMap[K, V]) Swap(key K, value V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.data[key]
	c.data[key] = value
	return old, ok
}

// Delete removes key and returns the value it held.
func (c *CMap[K, V]) Delete(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.data[key]
	if !ok {
		return old, false
	}
	delete(c.data, key)
	c.maybeShrink()
	return old, true
}

// DeleteIf removes every pair for which f returns true.
func (c *CMap[K, V]) DeleteIf(f func(K, V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.data {
		if f(k, v) {
			delete(c.data, k)
		}
	}
	c.maybeShrink()
}

// Iterator calls f for each pair until f returns false. f must not modify
// the map.
func (c *CMap[K, V]) Iterator(f func(K, V) bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for k, v := range c.data {
		if !f(k, v) {
			break
		}
	}
}

func (c *CMap[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]K, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	return keys
}

// Values returns a snapshot of the values.
func (c *CMap[K, V]) Values() []V {
	c.mu.RLock()
	defer c.mu.RUnlock()

	vals := make([]V, 0, len(c.data))
	for _, v := range c.data {
		vals = append(vals, v)
	}
	return vals
}

func (c *CMap[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.data)
}

func (c *CMap[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[K]V)
}
