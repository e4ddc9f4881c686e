package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

type windowEntry struct {
	member string
	at     time.Time
}

type memoryWindow struct {
	entries   []windowEntry
	expiresAt time.Time
}

// MemoryStore is an in-process Store for tests and single-node dry runs.
// Expiry is evaluated lazily against Now.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[string]memoryItem
	windows map[string]*memoryWindow
	Now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   make(map[string]memoryItem),
		windows: make(map[string]*memoryWindow),
		Now:     time.Now,
	}
}

func (s *MemoryStore) live(key string) (memoryItem, bool) {
	item, ok := s.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !item.expiresAt.IsZero() && !s.Now().Before(item.expiresAt) {
		delete(s.items, key)
		return memoryItem{}, false
	}
	return item, true
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.Now().Add(ttl)
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.live(key)
	if !ok {
		return nil, ErrMiss
	}
	return append([]byte(nil), item.value...), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.items[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: s.expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryStore) AddToWindow(_ context.Context, key, member string, at time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || (!w.expiresAt.IsZero() && !s.Now().Before(w.expiresAt)) {
		w = &memoryWindow{}
		s.windows[key] = w
	}

	cutoff := at.Add(-ttl)
	kept := w.entries[:0]
	for _, e := range w.entries {
		if e.member == member || e.at.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}
	w.entries = append(kept, windowEntry{member: member, at: at})
	sort.SliceStable(w.entries, func(i, j int) bool { return w.entries[i].at.Before(w.entries[j].at) })
	w.expiresAt = s.expiry(ttl)
	return nil
}

func (s *MemoryStore) WindowMembers(_ context.Context, key string, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return nil, nil
	}
	if !w.expiresAt.IsZero() && !s.Now().Before(w.expiresAt) {
		delete(s.windows, key)
		return nil, nil
	}
	var out []string
	for _, e := range w.entries {
		if !e.at.Before(since) {
			out = append(out, e.member)
		}
	}
	return out, nil
}
