package storage

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"hearth/internal/notify"
	"hearth/pkg/logx"
)

const cacheShards = 16

// Store is the engine-facing facade: validation at the write boundary plus a
// per-recipient write-through cache over the durable Repository.
//
// Cache policy: populate on miss, invalidate on every write for that
// recipient. Sharded by recipient id; no lock is held across repository I/O.
type Store struct {
	repo Repository
	log  logx.Logger

	shards [cacheShards]cacheShard
}

type cacheShard struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	prefs   *notify.Preferences
	subs    []notify.Subscription // active only
	hasSubs bool
}

func NewStore(repo Repository, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{repo: repo, log: log}
	for i := range s.shards {
		s.shards[i].entries = map[string]*cacheEntry{}
	}
	return s
}

func (s *Store) Repository() Repository { return s.repo }

func (s *Store) Close() error { return s.repo.Close() }

func (s *Store) shard(recipientID string) *cacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(recipientID))
	return &s.shards[h.Sum32()%cacheShards]
}

func (s *Store) cached(recipientID string) (*cacheEntry, *cacheShard) {
	sh := s.shard(recipientID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[recipientID]
	if !ok {
		return nil, sh
	}
	cp := *e
	return &cp, sh
}

func (s *Store) invalidate(recipientID string) {
	sh := s.shard(recipientID)
	sh.mu.Lock()
	delete(sh.entries, recipientID)
	sh.mu.Unlock()
}

// ---- Preferences ----

// Preferences returns the recipient's document, falling back to defaults
// when none was ever saved.
func (s *Store) Preferences(ctx context.Context, recipientID string) (notify.Preferences, error) {
	if e, _ := s.cached(recipientID); e != nil && e.prefs != nil {
		return *e.prefs, nil
	}

	p, ok, err := s.repo.GetPreferences(ctx, recipientID)
	if err != nil {
		return notify.Preferences{}, err
	}
	if !ok {
		p = notify.DefaultPreferences(recipientID)
	}

	sh := s.shard(recipientID)
	sh.mu.Lock()
	e := sh.entries[recipientID]
	if e == nil {
		e = &cacheEntry{}
		sh.entries[recipientID] = e
	}
	cp := p
	e.prefs = &cp
	sh.mu.Unlock()
	return p, nil
}

// PutPreferences validates and persists the document, then invalidates the
// recipient's cache entry.
func (s *Store) PutPreferences(ctx context.Context, p notify.Preferences) error {
	warnings, err := ValidatePreferences(p)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		s.log.Warn(w, logx.String("recipient", p.RecipientID), logx.Int("max_per_hour", p.MaxPerHour))
	}
	if err := s.repo.PutPreferences(ctx, p); err != nil {
		return err
	}
	s.invalidate(p.RecipientID)
	return nil
}

// ---- Subscriptions ----

// ActiveSubscriptions lists the recipient's active device registrations.
func (s *Store) ActiveSubscriptions(ctx context.Context, recipientID string) ([]notify.Subscription, error) {
	if e, _ := s.cached(recipientID); e != nil && e.hasSubs {
		return append([]notify.Subscription(nil), e.subs...), nil
	}

	subs, err := s.repo.ListSubscriptions(ctx, recipientID, true)
	if err != nil {
		return nil, err
	}

	sh := s.shard(recipientID)
	sh.mu.Lock()
	e := sh.entries[recipientID]
	if e == nil {
		e = &cacheEntry{}
		sh.entries[recipientID] = e
	}
	e.subs = append([]notify.Subscription(nil), subs...)
	e.hasSubs = true
	sh.mu.Unlock()
	return subs, nil
}

// PutSubscription validates and upserts one device registration.
func (s *Store) PutSubscription(ctx context.Context, sub notify.Subscription) error {
	if err := ValidateSubscription(sub); err != nil {
		return err
	}
	if sub.ID == "" {
		sub.ID = notify.NewID()
	}
	if err := s.repo.PutSubscription(ctx, sub); err != nil {
		return err
	}
	s.invalidate(sub.RecipientID)
	return nil
}

// DeactivateSubscription soft-deletes one registration (explicit
// unsubscribe, or the provider reported the endpoint gone).
func (s *Store) DeactivateSubscription(ctx context.Context, recipientID, endpoint string) error {
	if err := s.repo.DeactivateSubscription(ctx, endpoint); err != nil {
		return err
	}
	s.invalidate(recipientID)
	return nil
}

// MarkSubscriptionUsed records a successful delivery. Best-effort: the
// cached active list is unaffected.
func (s *Store) MarkSubscriptionUsed(ctx context.Context, endpoint string, at time.Time) error {
	return s.repo.MarkSubscriptionUsed(ctx, endpoint, at)
}

// ---- Notifications (not cached) ----

func (s *Store) SaveNotification(ctx context.Context, n notify.Notification) error {
	return s.repo.SaveNotification(ctx, n)
}

func (s *Store) UnreadByDedupKey(ctx context.Context, recipientID, dedupKey string) (notify.Notification, bool, error) {
	return s.repo.UnreadByDedupKey(ctx, recipientID, dedupKey)
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, limit int) ([]notify.Notification, error) {
	return s.repo.ListNotifications(ctx, recipientID, limit)
}

func (s *Store) MarkRead(ctx context.Context, recipientID string, ids []string) error {
	return s.repo.MarkRead(ctx, recipientID, ids)
}

func (s *Store) ClearRead(ctx context.Context, recipientID string) (int64, error) {
	return s.repo.ClearRead(ctx, recipientID)
}

func (s *Store) PruneRead(ctx context.Context, recipientID string, keep int) (int64, error) {
	return s.repo.PruneRead(ctx, recipientID, keep)
}
