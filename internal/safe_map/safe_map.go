package safe_map

import "sync"

// SafeMap is a map guarded by a RWMutex. Keys() returns keys in insertion order
// so callers that render the map get a stable ordering.
type SafeMap[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
	order []K
}

func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{
		items: make(map[K]V),
	}
}

func (m *SafeMap[K, V]) Load(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *SafeMap[K, V]) Store(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[key]; !ok {
		m.order = append(m.order, key)
	}
	m.items[key] = value
}

// LoadOrStore returns the existing value for key if present. Otherwise it calls
// create exactly once, stores the result and returns it. create runs under the
// write lock, so concurrent callers for the same key never create twice.
// loaded reports whether the value already existed.
func (m *SafeMap[K, V]) LoadOrStore(key K, create func() V) (value V, loaded bool) {
	m.mu.RLock()
	v, ok := m.items[key]
	m.mu.RUnlock()
	if ok {
		return v, true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.items[key]; ok {
		return v, true
	}
	v = create()
	m.items[key] = v
	m.order = append(m.order, key)
	return v, false
}

// LoadAndDelete removes key and returns the value it held, if any.
func (m *SafeMap[K, V]) LoadAndDelete(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	if !ok {
		return v, false
	}
	delete(m.items, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return v, true
}

// Clear removes every entry.
func (m *SafeMap[K, V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[K]V)
	m.order = nil
}

func (m *SafeMap[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Keys returns a copy of the keys in insertion order.
func (m *SafeMap[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]K, len(m.order))
	copy(keys, m.order)
	return keys
}

// Values returns a copy of the values in key insertion order.
func (m *SafeMap[K, V]) Values() []V {
	m.mu.RLock()
	defer m.mu.RUnlock()
	values := make([]V, 0, len(m.order))
	for _, k := range m.order {
		values = append(values, m.items[k])
	}
	return values
}
