package cache

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryStore keeps entries in a bounded LRU. The least recently used key
// is dropped once size is reached.
type MemoryStore struct {
	entries *lru.Cache[string, []byte]
	closed  atomic.Bool
}

func NewMemoryStore(size int) (*MemoryStore, error) {
	entries, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{entries: entries}, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if m.closed.Load() {
		return nil, false, ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	value, ok := m.entries.Get(key)
	if !ok {
		return nil, false, nil
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	if m.closed.Load() {
		return ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries.Add(key, stored)
	return nil
}

func (m *MemoryStore) Len() int {
	return m.entries.Len()
}

func (m *MemoryStore) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.entries.Purge()
	return nil
}
