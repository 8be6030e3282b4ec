// Package lazy memoizes expensive service construction behind thread-safe
// accessors. A failed initialization is not cached, so the next caller retries.
package lazy

import (
	"context"
	"sync"
)

// Value builds a T on first use and returns the same T afterwards.
type Value[T any] struct {
	mu    sync.Mutex
	init  func(context.Context) (T, error)
	val   T
	ready bool
}

// New returns a Value that calls init on first Get.
func New[T any](init func(context.Context) (T, error)) *Value[T] {
	return &Value[T]{init: init}
}

// Get returns the memoized value, building it if needed.
func (v *Value[T]) Get(ctx context.Context) (T, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ready {
		return v.val, nil
	}
	val, err := v.init(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	v.val, v.ready = val, true
	return val, nil
}

// Peek returns the value if it has been built.
func (v *Value[T]) Peek() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.val, v.ready
}

// Map memoizes one value per key. Builds for different keys do not block
// each other.
type Map[K comparable, V any] struct {
	mu    sync.Mutex
	init  func(context.Context, K) (V, error)
	items map[K]*Value[V]
}

// NewMap returns a Map that calls init the first time a key is requested.
func NewMap[K comparable, V any](init func(context.Context, K) (V, error)) *Map[K, V] {
	return &Map[K, V]{init: init, items: make(map[K]*Value[V])}
}

// Get returns the memoized value for key.
func (m *Map[K, V]) Get(ctx context.Context, key K) (V, error) {
	m.mu.Lock()
	v, ok := m.items[key]
	if !ok {
		v = New(func(ctx context.Context) (V, error) { return m.init(ctx, key) })
		m.items[key] = v
	}
	m.mu.Unlock()
	return v.Get(ctx)
}

// Keys returns the keys whose values have been built.
func (m *Map[K, V]) Keys() []K {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []K
	for k, v := range m.items {
		if _, ok := v.Peek(); ok {
			out = append(out, k)
		}
	}
	return out
}
