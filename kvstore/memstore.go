package kvstore

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-process ordered map backed by a sorted slice with
// binary-search insert/lookup. No corpus example wires a BTree/ordered-map
// library into any go.mod (see DESIGN.md), so this component is built on
// the standard library only: sort.Search gives O(log n) lookup and O(n)
// insert, which is adequate for the test suite and for single-process
// "memory" driver use — the production path is SQLiteStore.
type MemStore struct {
	mu   sync.RWMutex
	keys []string
	vals map[string][]byte
}

// NewMemStore creates an empty in-memory ordered store.
func NewMemStore() *MemStore {
	return &MemStore{vals: make(map[string][]byte)}
}

func (m *MemStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.vals[key]; !exists {
		i := sort.SearchStrings(m.keys, key)
		m.keys = append(m.keys, "")
		copy(m.keys[i+1:], m.keys[i:])
		m.keys[i] = key
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m.vals[key] = cp
	return nil
}

func (m *MemStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vals[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.vals[key]; !exists {
		return nil
	}
	delete(m.vals, key)
	i := sort.SearchStrings(m.keys, key)
	if i < len(m.keys) && m.keys[i] == key {
		m.keys = append(m.keys[:i], m.keys[i+1:]...)
	}
	return nil
}

func (m *MemStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.vals[key]
	return ok, nil
}

func (m *MemStore) RangeScan(_ context.Context, startKey, endKeyInclusive string) ([]Pair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := sort.SearchStrings(m.keys, startKey)
	var pairs []Pair
	for i := start; i < len(m.keys); i++ {
		k := m.keys[i]
		if k > endKeyInclusive {
			break
		}
		v := m.vals[k]
		cp := make([]byte, len(v))
		copy(cp, v)
		pairs = append(pairs, Pair{Key: k, Value: cp})
	}
	return pairs, nil
}

func (m *MemStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys), nil
}

func (m *MemStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = nil
	m.vals = make(map[string][]byte)
	return nil
}

// Compact is a no-op for the in-memory store; there is no on-disk file to
// reclaim space from.
func (m *MemStore) Compact(_ context.Context) error { return nil }

func (m *MemStore) Close() error { return nil }
