package httpsession

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 16

// MemoryBackend is an in-process Backend built from RWMutex-guarded shards.
type MemoryBackend struct {
	shards []*memoryShard
	now    func() time.Time
}

type memoryShard struct {
	mu    sync.RWMutex
	store map[string]memoryItem
}

type memoryItem struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	shards := make([]*memoryShard, memoryShards)
	for i := range shards {
		shards[i] = &memoryShard{store: make(map[string]memoryItem)}
	}
	return &MemoryBackend{shards: shards, now: time.Now}
}

func (m *MemoryBackend) shard(key string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	s := m.shard(key)
	s.mu.RLock()
	item, ok := s.store[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if !item.expiresAt.IsZero() && !m.now().Before(item.expiresAt) {
		s.mu.Lock()
		if current, ok := s.store[key]; ok && current.expiresAt.Equal(item.expiresAt) {
			delete(s.store, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	return item.data, true, nil
}

// Set implements Backend. A non-positive ttl keeps the entry until deleted.
func (m *MemoryBackend) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	item := memoryItem{data: append([]byte(nil), data...)}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}

	s := m.shard(key)
	s.mu.Lock()
	s.store[key] = item
	s.mu.Unlock()
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	s := m.shard(key)
	s.mu.Lock()
	delete(s.store, key)
	s.mu.Unlock()
	return nil
}

// Clear drops every entry.
func (m *MemoryBackend) Clear(context.Context) error {
	for _, s := range m.shards {
		s.mu.Lock()
		s.store = make(map[string]memoryItem)
		s.mu.Unlock()
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryBackend) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.store)
		s.mu.RUnlock()
	}
	return n
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	return nil
}
