// Package attr provides typed per-connection attributes backed by a
// concurrent map, safe to use from any goroutine.
package attr

import "github.com/czx-lab/netpipe/container/cmap"

// Key names an attribute holding values of type T. Keys with the same name
// address the same slot.
type Key[T any] struct {
	name string
}

func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

func (k Key[T]) Name() string {
	return k.name
}

// Map stores attributes of mixed types.
type Map struct {
	m *cmap.CMap[string, any]
}

func NewMap() *Map {
	return &Map{m: cmap.New[string, any]()}
}

// Len returns the number of attributes set.
func (m *Map) Len() int {
	return m.m.Len()
}

// Get returns the value under k. A value stored under the same name with a
// different type reports false.
func (k Key[T]) Get(m *Map) (T, bool) {
	v, ok := m.m.Get(k.name)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

func (k Key[T]) Set(m *Map, v T) {
	m.m.Set(k.name, v)
}

// SetIfAbsent stores v unless a value is present and returns the value now
// held.
func (k Key[T]) SetIfAbsent(m *Map, v T) (T, bool) {
	cur, stored := m.m.SetIfAbsent(k.name, v)
	t, _ := cur.(T)
	return t, stored
}

// Delete removes the value under k and returns it.
func (k Key[T]) Delete(m *Map) (T, bool) {
	v, ok := m.m.Delete(k.name)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
