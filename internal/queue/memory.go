package queue

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a process-local Store with the same atomicity guarantees as
// RedisStore. It backs single-instance deployments without a queue server.
type MemoryStore struct {
	mu     sync.Mutex
	lists  map[string][][]byte
	zsets  map[string]map[string]int64
	hashes map[string]map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists:  make(map[string][][]byte),
		zsets:  make(map[string]map[string]int64),
		hashes: make(map[string]map[string][]byte),
	}
}

func (m *MemoryStore) Push(ctx context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], clone(payload))
	return nil
}

func (m *MemoryStore) PopN(ctx context.Context, key string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, ErrInvalidCount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.lists[key]
	if n > len(list) {
		n = len(list)
	}
	out := list[:n:n]
	if n == len(list) {
		delete(m.lists, key)
	} else {
		m.lists[key] = list[n:]
	}
	return out, nil
}

func (m *MemoryStore) UpsertIfNewer(ctx context.Context, indexKey, dataKey, member string, score int64, payload []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := m.zsets[indexKey]
	if index == nil {
		index = make(map[string]int64)
		m.zsets[indexKey] = index
	}
	if current, ok := index[member]; ok && current > score {
		return false, nil
	}
	index[member] = score
	m.hash(dataKey)[member] = clone(payload)
	return true, nil
}

func (m *MemoryStore) PopSorted(ctx context.Context, indexKey, dataKey string, n int) ([]SortedEntry, error) {
	if n <= 0 {
		return nil, ErrInvalidCount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	index := m.zsets[indexKey]
	entries := make([]SortedEntry, 0, len(index))
	for member, score := range index {
		entries = append(entries, SortedEntry{Member: member, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score < entries[j].Score
		}
		return entries[i].Member < entries[j].Member
	})
	if n < len(entries) {
		entries = entries[:n]
	}

	data := m.hashes[dataKey]
	for i := range entries {
		member := entries[i].Member
		entries[i].Payload = data[member]
		delete(index, member)
		delete(data, member)
	}
	return entries, nil
}

func (m *MemoryStore) HashSet(ctx context.Context, key, field string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hash(key)[field] = clone(payload)
	return nil
}

func (m *MemoryStore) ScanAndDelete(ctx context.Context, key string, count int) ([]HashEntry, error) {
	if count <= 0 {
		return nil, ErrInvalidCount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.hashes[key]
	fields := make([]string, 0, len(h))
	for f := range h {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	if count < len(fields) {
		fields = fields[:count]
	}

	out := make([]HashEntry, 0, len(fields))
	for _, f := range fields {
		out = append(out, HashEntry{Field: f, Payload: h[f]})
		delete(h, f)
	}
	return out, nil
}

func (m *MemoryStore) Len(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.lists[key] != nil:
		return int64(len(m.lists[key])), nil
	case m.zsets[key] != nil:
		return int64(len(m.zsets[key])), nil
	default:
		return int64(len(m.hashes[key])), nil
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) hash(key string) map[string][]byte {
	h := m.hashes[key]
	if h == nil {
		h = make(map[string][]byte)
		m.hashes[key] = h
	}
	return h
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
