package notification

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemStore is an in-process Store, used when no database is configured for
// notifications and in tests.
type MemStore struct {
	mu    sync.Mutex
	items []*Notification
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.items = append(m.items, &cp)
	return nil
}

func (m *MemStore) ListForUser(_ context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Notification
	for _, n := range m.items {
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		cp := *n
		all = append(all, &cp)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (m *MemStore) UnreadCount(_ context.Context, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, it := range m.items {
		if it.UserID == userID && !it.IsRead {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) MarkRead(_ context.Context, userID, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ID == id && it.UserID == userID {
			it.IsRead = true
			return true, nil
		}
	}
	return false, nil
}

func (m *MemStore) MarkAllRead(_ context.Context, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, it := range m.items {
		if it.UserID == userID && !it.IsRead {
			it.IsRead = true
			n++
		}
	}
	return n, nil
}
