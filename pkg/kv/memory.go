package kv

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps entries in-process. Used by tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]json.RawMessage
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]json.RawMessage)}
}

// Get returns a copy of the value stored at key.
func (m *MemoryStore) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

// Set stores value at key, replacing any previous value.
func (m *MemoryStore) Set(_ context.Context, key string, value json.RawMessage) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key] = clone(value)
	m.mu.Unlock()
	return nil
}

// Del removes key.
func (m *MemoryStore) Del(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// GetByPrefix scans all keys; cost is linear in the store size.
func (m *MemoryStore) GetByPrefix(_ context.Context, prefix string) ([]Entry, error) {
	if prefix == "" {
		return nil, ErrEmptyPrefix
	}
	m.mu.RLock()
	out := make([]Entry, 0)
	for k, v := range m.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Entry{Key: k, Value: clone(v)})
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Update holds the write lock for the whole read-modify-write.
func (m *MemoryStore) Update(_ context.Context, key string, fn UpdateFunc) error {
	if err := checkKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.entries[key]
	next, err := fn(clone(old), ok)
	if errors.Is(err, ErrSkip) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := checkValue(next); err != nil {
		return err
	}
	m.entries[key] = clone(next)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func clone(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
