// Package com has the shared containers of the relay.
package com

import (
	"errors"
	"sync"
)

// Map defines a concurrent-safe map structure.
type Map[K comparable, V any] struct {
	m  map[K]V
	mu sync.Mutex
}

var ErrNotFound = errors.New("not found")

func NewMap[K comparable, V any]() *Map[K, V] { return &Map[K, V]{m: make(map[K]V, 10)} }

func (m *Map[K, _]) Has(key K) bool    { _, err := m.Find(key); return err == nil }
func (m *Map[_, _]) IsEmpty() bool     { return m.Len() == 0 }
func (m *Map[_, _]) Len() int          { m.mu.Lock(); defer m.mu.Unlock(); return len(m.m) }
func (m *Map[K, V]) Put(key K, v V)    { m.mu.Lock(); m.m[key] = v; m.mu.Unlock() }
func (m *Map[K, _]) RemoveByKey(key K) { m.mu.Lock(); delete(m.m, key); m.mu.Unlock() }

// Find returns the value of the key or ErrNotFound.
func (m *Map[K, V]) Find(key K) (v V, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.m[key]; ok {
		return c, nil
	}
	return v, ErrNotFound
}

// GetOrPut returns the value of the key, the value made by fn is
// stored first when there is none.
func (m *Map[K, V]) GetOrPut(key K, fn func() V) V {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.m[key]; ok {
		return v
	}
	v := fn()
	m.m[key] = v
	return v
}

// RemoveIf deletes the key when fn agrees with its current value.
func (m *Map[K, V]) RemoveIf(key K, fn func(v V) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.m[key]; ok && fn(v) {
		delete(m.m, key)
		return true
	}
	return false
}

// ForEach processes every element with the provided callback function.
// The callback must not call the map.
func (m *Map[K, V]) ForEach(fn func(k K, v V)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		fn(k, v)
	}
}

// Values returns a copy of the values.
func (m *Map[_, V]) Values() []V {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]V, 0, len(m.m))
	for _, v := range m.m {
		out = append(out, v)
	}
	return out
}
