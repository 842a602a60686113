package datastore

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryStore implements Store using in-memory maps (not persistent).
type MemoryStore struct {
	mu    sync.RWMutex
	kinds map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{kinds: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, kind string, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.kinds[kind]
	if !ok {
		records = make(map[string][]byte)
		m.kinds[kind] = records
	}
	records[string(key)] = bytes.Clone(value)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, kind string, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKindNotFound, kind)
	}
	v, ok := records[string(key)]
	if !ok {
		return nil, nil
	}
	return bytes.Clone(v), nil
}

func (m *MemoryStore) Count(_ context.Context, kind string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.kinds[kind]), nil
}

func (m *MemoryStore) SplitPoints(_ context.Context, kind string, maxPoints int) ([][]byte, error) {
	return evenSplitPoints(m.sortedKeys(kind), maxPoints), nil
}

func (m *MemoryStore) Scan(ctx context.Context, kind string, start, end []byte, fn func(key, value []byte) error) error {
	for _, k := range m.sortedKeys(kind) {
		if start != nil && bytes.Compare(k, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(k, end) >= 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		m.mu.RLock()
		v, ok := m.kinds[kind][string(k)]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) sortedKeys(kind string) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([][]byte, 0, len(m.kinds[kind]))
	for k := range m.kinds[kind] {
		keys = append(keys, []byte(k))
	}
	slices.SortFunc(keys, bytes.Compare)
	return keys
}
