package notifications

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

type memStore struct {
	mu    sync.Mutex
	items map[string]Notification
}

func newMemStore() *memStore {
	return &memStore{items: map[string]Notification{}}
}

func (s *memStore) Insert(_ context.Context, n Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[n.ID]; ok {
		return false, nil
	}
	s.items[n.ID] = n
	return true, nil
}

func (s *memStore) List(_ context.Context, userID string, limit int) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, n := range s.items {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) UnreadCount(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if it.UserID == userID && !it.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *memStore) MarkRead(_ context.Context, userID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok || it.UserID != userID {
		return false, nil
	}
	it.IsRead = true
	s.items[id] = it
	return true, nil
}

func (s *memStore) MarkAllRead(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, it := range s.items {
		if it.UserID == userID && !it.IsRead {
			it.IsRead = true
			s.items[id] = it
			n++
		}
	}
	return n, nil
}

func (s *memStore) Delete(_ context.Context, userID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok || it.UserID != userID {
		return false, nil
	}
	delete(s.items, id)
	return true, nil
}

func (s *memStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, it := range s.items {
		if it.ExpiresAt != nil && it.ExpiresAt.Before(now) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

type memCache struct {
	mu          sync.Mutex
	counts      map[string]int
	versions    map[string]int
	invalidated int
}

func newMemCache() *memCache {
	return &memCache{counts: map[string]int{}, versions: map[string]int{}}
}

func (c *memCache) Get(_ context.Context, userID string) (int, string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counts[userID]
	return n, strconv.Itoa(c.versions[userID]), ok, nil
}

func (c *memCache) Set(_ context.Context, userID string, count int, version string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if version != strconv.Itoa(c.versions[userID]) {
		return false, nil
	}
	c.counts[userID] = count
	return true, nil
}

func (c *memCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, userID)
	c.versions[userID]++
	c.invalidated++
	return nil
}
