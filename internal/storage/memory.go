package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"hearth/internal/notify"
)

// Memory is the map-backed Repository used by tests and single-node trial
// runs. It holds no cross-restart state.
type Memory struct {
	mu            sync.RWMutex
	prefs         map[string]notify.Preferences
	subscriptions map[string]notify.Subscription // by endpoint
	notifications map[string]notify.Notification // by id
}

func NewMemory() *Memory {
	return &Memory{
		prefs:         map[string]notify.Preferences{},
		subscriptions: map[string]notify.Subscription{},
		notifications: map[string]notify.Notification{},
	}
}

func (m *Memory) GetPreferences(_ context.Context, recipientID string) (notify.Preferences, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prefs[recipientID]
	if !ok {
		return notify.Preferences{}, false, nil
	}
	return clonePrefs(p), true, nil
}

func (m *Memory) PutPreferences(_ context.Context, p notify.Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[p.RecipientID] = clonePrefs(p)
	return nil
}

func (m *Memory) PutSubscription(_ context.Context, s notify.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.subscriptions[s.Endpoint]; ok {
		s.ID = prev.ID
		s.CreatedAt = prev.CreatedAt
	}
	m.subscriptions[s.Endpoint] = s
	return nil
}

func (m *Memory) ListSubscriptions(_ context.Context, recipientID string, activeOnly bool) ([]notify.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []notify.Subscription
	for _, s := range m.subscriptions {
		if s.RecipientID != recipientID {
			continue
		}
		if activeOnly && !s.Active {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeactivateSubscription(_ context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[endpoint]
	if !ok {
		return ErrNotFound
	}
	s.Active = false
	m.subscriptions[endpoint] = s
	return nil
}

func (m *Memory) MarkSubscriptionUsed(_ context.Context, endpoint string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[endpoint]
	if !ok {
		return ErrNotFound
	}
	s.LastUsedAt = at
	m.subscriptions[endpoint] = s
	return nil
}

func (m *Memory) SaveNotification(_ context.Context, n notify.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = n
	return nil
}

func (m *Memory) UnreadByDedupKey(_ context.Context, recipientID, dedupKey string) (notify.Notification, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.notifications {
		if n.RecipientID == recipientID && n.DedupKey == dedupKey && !n.Read {
			return n, true, nil
		}
	}
	return notify.Notification{}, false, nil
}

func (m *Memory) ListNotifications(_ context.Context, recipientID string, limit int) ([]notify.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []notify.Notification
	for _, n := range m.notifications {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkRead(_ context.Context, recipientID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		n, ok := m.notifications[id]
		if !ok || n.RecipientID != recipientID {
			continue
		}
		n.Read = true
		m.notifications[id] = n
	}
	return nil
}

func (m *Memory) ClearRead(_ context.Context, recipientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, n := range m.notifications {
		if n.RecipientID == recipientID && n.Read {
			delete(m.notifications, id)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) PruneRead(_ context.Context, recipientID string, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if keep < 0 {
		keep = 0
	}
	var rows []notify.Notification
	for _, n := range m.notifications {
		if n.RecipientID == recipientID {
			rows = append(rows, n)
		}
	}
	over := len(rows) - keep
	if over <= 0 {
		return 0, nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	var removed int64
	for _, n := range rows {
		if over <= 0 {
			break
		}
		if !n.Read {
			continue
		}
		delete(m.notifications, n.ID)
		removed++
		over--
	}
	return removed, nil
}

func (m *Memory) Close() error { return nil }

func clonePrefs(p notify.Preferences) notify.Preferences {
	cp := p
	if p.Enabled != nil {
		cp.Enabled = make(map[notify.Category]bool, len(p.Enabled))
		for k, v := range p.Enabled {
			cp.Enabled[k] = v
		}
	}
	if p.QuietStart != nil {
		v := *p.QuietStart
		cp.QuietStart = &v
	}
	if p.QuietEnd != nil {
		v := *p.QuietEnd
		cp.QuietEnd = &v
	}
	return cp
}
