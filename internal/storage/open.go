package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"hearth/internal/notify"
	"hearth/pkg/logx"
)

var ErrNotFound = errors.New("storage: not found")

// Config configures the durable backend.
//
// Driver values:
//   - "memory": process-local maps (tests, single-node trials)
//   - "sqlite": SQLite database file
//   - "postgres": PostgreSQL via pgx pool (DSN in Path)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Repository is the durable persistence API. Implementations return typed
// results or errors; "log and continue" is the caller's decision, never the
// repository's.
type Repository interface {
	// Preferences. Get reports ok=false when the recipient never saved a
	// document.
	GetPreferences(ctx context.Context, recipientID string) (notify.Preferences, bool, error)
	PutPreferences(ctx context.Context, p notify.Preferences) error

	// Subscriptions. Put upserts by endpoint; Deactivate is a soft delete.
	PutSubscription(ctx context.Context, s notify.Subscription) error
	ListSubscriptions(ctx context.Context, recipientID string, activeOnly bool) ([]notify.Subscription, error)
	DeactivateSubscription(ctx context.Context, endpoint string) error
	MarkSubscriptionUsed(ctx context.Context, endpoint string, at time.Time) error

	// Notifications.
	SaveNotification(ctx context.Context, n notify.Notification) error
	UnreadByDedupKey(ctx context.Context, recipientID, dedupKey string) (notify.Notification, bool, error)
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]notify.Notification, error)
	MarkRead(ctx context.Context, recipientID string, ids []string) error
	ClearRead(ctx context.Context, recipientID string) (int64, error)
	// PruneRead drops oldest read notifications until at most keep rows
	// remain for the recipient. Unread rows are never touched.
	PruneRead(ctx context.Context, recipientID string, keep int) (int64, error)

	Close() error
}

// Open initializes the configured backend.
func Open(cfg Config, log logx.Logger) (Repository, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "pgx":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
