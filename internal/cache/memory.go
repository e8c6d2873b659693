package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the memory store when no size is configured.
const DefaultMaxEntries = 10_000

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store for development and tests. It holds at
// most maxEntries values and evicts the least recently used one beyond that.
// Expired entries are dropped when touched or when they reach the LRU tail.
type MemoryStore struct {
	mu         sync.Mutex
	maxEntries int
	order      *list.List // front = most recently used
	items      map[string]*list.Element

	now func() time.Time
}

func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		maxEntries: maxEntries,
		order:      list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	entry := el.Value.(*memoryEntry)
	if !s.now().Before(entry.expiresAt) {
		s.remove(el)
		return nil, false, nil
	}

	s.order.MoveToFront(el)
	return entry.value, true, nil
}

// Set stores a copy of value for ttl. A non-positive ttl removes the key.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		s.remove(el)
	}
	if ttl <= 0 {
		return nil
	}

	entry := &memoryEntry{
		key:       key,
		value:     append([]byte(nil), value...),
		expiresAt: s.now().Add(ttl),
	}
	s.items[key] = s.order.PushFront(entry)

	for s.order.Len() > s.maxEntries {
		s.remove(s.order.Back())
	}
	return nil
}

// Ping always succeeds; it lets the memory store sit behind a watched Gate.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len returns the number of entries held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *MemoryStore) remove(el *list.Element) {
	s.order.Remove(el)
	delete(s.items, el.Value.(*memoryEntry).key)
}
