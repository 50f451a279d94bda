package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hearth/internal/notify"
	"hearth/pkg/logx"
)

//go:embed migrations_postgres.sql
var pgMigrationsFS embed.FS

// postgresRepo backs multi-instance deployments where a local sqlite file
// is not shareable. Path carries the DSN.
type postgresRepo struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Repository, error) {
	dsn := strings.TrimSpace(cfg.Path)
	if dsn == "" {
		return nil, errors.New("postgres DSN is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	r := &postgresRepo{pool: pool, log: log}
	if err := r.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *postgresRepo) migrate(ctx context.Context) error {
	b, err := pgMigrationsFS.ReadFile("migrations_postgres.sql")
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, string(b))
	return err
}

func (r *postgresRepo) Close() error {
	if r != nil && r.pool != nil {
		r.pool.Close()
	}
	return nil
}

func (r *postgresRepo) GetPreferences(ctx context.Context, recipientID string) (notify.Preferences, bool, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx,
		`SELECT doc FROM preferences WHERE recipient_id = $1`, recipientID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return notify.Preferences{}, false, nil
	}
	if err != nil {
		return notify.Preferences{}, false, err
	}
	var p notify.Preferences
	if err := json.Unmarshal(doc, &p); err != nil {
		return notify.Preferences{}, false, fmt.Errorf("decode preferences for %s: %w", recipientID, err)
	}
	p.RecipientID = recipientID
	return p, true, nil
}

func (r *postgresRepo) PutPreferences(ctx context.Context, p notify.Preferences) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO preferences(recipient_id, doc, updated_at) VALUES($1,$2,$3)
		 ON CONFLICT(recipient_id) DO UPDATE SET doc=EXCLUDED.doc, updated_at=EXCLUDED.updated_at`,
		p.RecipientID, doc, time.Now())
	return err
}

func (r *postgresRepo) PutSubscription(ctx context.Context, s notify.Subscription) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	var lastUsed any
	if !s.LastUsedAt.IsZero() {
		lastUsed = s.LastUsedAt
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO subscriptions(id, recipient_id, endpoint, p256dh, auth, active, created_at, last_used_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT(endpoint) DO UPDATE SET
		   recipient_id=EXCLUDED.recipient_id, p256dh=EXCLUDED.p256dh,
		   auth=EXCLUDED.auth, active=EXCLUDED.active`,
		s.ID, s.RecipientID, s.Endpoint, s.P256dh, s.Auth, s.Active, s.CreatedAt, lastUsed)
	return err
}

func (r *postgresRepo) ListSubscriptions(ctx context.Context, recipientID string, activeOnly bool) ([]notify.Subscription, error) {
	q := `SELECT id, recipient_id, endpoint, p256dh, auth, active, created_at, last_used_at
	      FROM subscriptions WHERE recipient_id = $1`
	if activeOnly {
		q += ` AND active`
	}
	q += ` ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notify.Subscription
	for rows.Next() {
		var (
			s        notify.Subscription
			lastUsed *time.Time
		)
		if err := rows.Scan(&s.ID, &s.RecipientID, &s.Endpoint, &s.P256dh, &s.Auth, &s.Active, &s.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		if lastUsed != nil {
			s.LastUsedAt = *lastUsed
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *postgresRepo) DeactivateSubscription(ctx context.Context, endpoint string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE subscriptions SET active = FALSE WHERE endpoint = $1`, endpoint)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepo) MarkSubscriptionUsed(ctx context.Context, endpoint string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE subscriptions SET last_used_at = $1 WHERE endpoint = $2`, at, endpoint)
	return err
}

func (r *postgresRepo) SaveNotification(ctx context.Context, n notify.Notification) error {
	actions, err := encodeActions(n.Actions)
	if err != nil {
		return err
	}
	var actionsArg any
	if actions != "" {
		actionsArg = []byte(actions)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO notifications(id, recipient_id, category, title, body, priority,
		   dedup_key, icon, click_url, actions, created_at, is_sent, is_read)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		 ON CONFLICT(id) DO UPDATE SET is_sent=EXCLUDED.is_sent, is_read=EXCLUDED.is_read`,
		n.ID, n.RecipientID, string(n.Category), n.Title, n.Body, n.Priority,
		n.DedupKey, nullStr(n.Icon), nullStr(n.ClickURL), actionsArg,
		n.CreatedAt, n.Sent, n.Read)
	return err
}

func (r *postgresRepo) UnreadByDedupKey(ctx context.Context, recipientID, dedupKey string) (notify.Notification, bool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, recipient_id, category, title, body, priority, dedup_key,
		        icon, click_url, actions, created_at, is_sent, is_read
		 FROM notifications
		 WHERE recipient_id = $1 AND dedup_key = $2 AND NOT is_read
		 LIMIT 1`, recipientID, dedupKey)
	if err != nil {
		return notify.Notification{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return notify.Notification{}, false, rows.Err()
	}
	n, err := scanPgNotification(rows)
	if err != nil {
		return notify.Notification{}, false, err
	}
	return n, true, nil
}

func (r *postgresRepo) ListNotifications(ctx context.Context, recipientID string, limit int) ([]notify.Notification, error) {
	q := `SELECT id, recipient_id, category, title, body, priority, dedup_key,
	             icon, click_url, actions, created_at, is_sent, is_read
	      FROM notifications WHERE recipient_id = $1 ORDER BY created_at DESC`
	args := []any{recipientID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		n, err := scanPgNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *postgresRepo) MarkRead(ctx context.Context, recipientID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE recipient_id = $1 AND id = ANY($2)`,
		recipientID, ids)
	return err
}

func (r *postgresRepo) ClearRead(ctx context.Context, recipientID string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM notifications WHERE recipient_id = $1 AND is_read`, recipientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *postgresRepo) PruneRead(ctx context.Context, recipientID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1`, recipientID).Scan(&total); err != nil {
		return 0, err
	}
	over := total - keep
	if over <= 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM notifications WHERE id IN (
			SELECT id FROM notifications
			WHERE recipient_id = $1 AND is_read
			ORDER BY created_at ASC LIMIT $2)`, recipientID, over)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanPgNotification(rows pgx.Rows) (notify.Notification, error) {
	var (
		n        notify.Notification
		cat      string
		icon     *string
		clickURL *string
		actions  []byte
	)
	err := rows.Scan(&n.ID, &n.RecipientID, &cat, &n.Title, &n.Body, &n.Priority,
		&n.DedupKey, &icon, &clickURL, &actions, &n.CreatedAt, &n.Sent, &n.Read)
	if err != nil {
		return notify.Notification{}, err
	}
	n.Category = notify.Category(cat)
	if icon != nil {
		n.Icon = *icon
	}
	if clickURL != nil {
		n.ClickURL = *clickURL
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &n.Actions); err != nil {
			return notify.Notification{}, fmt.Errorf("decode actions for %s: %w", n.ID, err)
		}
	}
	return n, nil
}
