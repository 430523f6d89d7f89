// Package kv provides the byte key/value store abstraction used by the
// page-addressed filesystem backend, with in-memory and bbolt-backed
// implementations.
package kv

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// Pair is one key/value entry returned by Scan.
type Pair struct {
	Key   []byte
	Value []byte
}

// Store is the minimal contract pagefs needs from a KV backend.
type Store interface {
	// Get returns the value for key, with found=false when absent.
	Get(ctx context.Context, key []byte) (value []byte, found bool, err error)
	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key []byte) error
	// Scan returns all pairs whose key starts with prefix, sorted by key.
	Scan(ctx context.Context, prefix []byte) ([]Pair, error)
	// Close releases the backend.
	Close() error
}

// Memory is a Store held entirely in process memory. Writes copy their
// inputs so callers may reuse buffers.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory makes an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get returns the value for key.
func (m *Memory) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, found := m.data[string(key)]
	if !found {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Set stores value under key.
func (m *Memory) Set(ctx context.Context, key, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.mu.Lock()
	m.data[string(key)] = stored
	m.mu.Unlock()
	return nil
}

// Delete removes key.
func (m *Memory) Delete(ctx context.Context, key []byte) error {
	m.mu.Lock()
	delete(m.data, string(key))
	m.mu.Unlock()
	return nil
}

// Scan returns all pairs under prefix sorted by key.
func (m *Memory) Scan(ctx context.Context, prefix []byte) ([]Pair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pairs []Pair
	for key, value := range m.data {
		if bytes.HasPrefix([]byte(key), prefix) {
			v := make([]byte, len(value))
			copy(v, value)
			pairs = append(pairs, Pair{Key: []byte(key), Value: v})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		return bytes.Compare(pairs[i].Key, pairs[j].Key) < 0
	})
	return pairs, nil
}

// Close is a no-op for the memory store.
func (m *Memory) Close() error { return nil }

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
