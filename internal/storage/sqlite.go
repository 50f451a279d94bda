package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"hearth/internal/notify"
	"hearth/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteRepo struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Repository, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	r := &sqliteRepo{db: db, log: log}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *sqliteRepo) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, string(b))
	return err
}

func (r *sqliteRepo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *sqliteRepo) GetPreferences(ctx context.Context, recipientID string) (notify.Preferences, bool, error) {
	var doc string
	err := r.db.QueryRowContext(ctx,
		`SELECT doc FROM preferences WHERE recipient_id = ?`, recipientID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.Preferences{}, false, nil
	}
	if err != nil {
		return notify.Preferences{}, false, err
	}
	var p notify.Preferences
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return notify.Preferences{}, false, fmt.Errorf("decode preferences for %s: %w", recipientID, err)
	}
	p.RecipientID = recipientID
	return p, true, nil
}

func (r *sqliteRepo) PutPreferences(ctx context.Context, p notify.Preferences) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO preferences(recipient_id, doc, updated_at) VALUES(?,?,?)
		 ON CONFLICT(recipient_id) DO UPDATE SET doc=excluded.doc, updated_at=excluded.updated_at`,
		p.RecipientID, string(doc), time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (r *sqliteRepo) PutSubscription(ctx context.Context, s notify.Subscription) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions(id, recipient_id, endpoint, p256dh, auth, active, created_at, last_used_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(endpoint) DO UPDATE SET
		   recipient_id=excluded.recipient_id, p256dh=excluded.p256dh,
		   auth=excluded.auth, active=excluded.active`,
		s.ID, s.RecipientID, s.Endpoint, s.P256dh, s.Auth, boolInt(s.Active),
		s.CreatedAt.Format(time.RFC3339Nano), nullTime(s.LastUsedAt),
	)
	return err
}

func (r *sqliteRepo) ListSubscriptions(ctx context.Context, recipientID string, activeOnly bool) ([]notify.Subscription, error) {
	q := `SELECT id, recipient_id, endpoint, p256dh, auth, active, created_at, last_used_at
	      FROM subscriptions WHERE recipient_id = ?`
	if activeOnly {
		q += ` AND active = 1`
	}
	q += ` ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notify.Subscription
	for rows.Next() {
		var (
			s        notify.Subscription
			active   int
			created  string
			lastUsed sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.RecipientID, &s.Endpoint, &s.P256dh, &s.Auth, &active, &created, &lastUsed); err != nil {
			return nil, err
		}
		s.Active = active != 0
		s.CreatedAt = parseTime(created)
		if lastUsed.Valid {
			s.LastUsedAt = parseTime(lastUsed.String)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sqliteRepo) DeactivateSubscription(ctx context.Context, endpoint string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET active = 0 WHERE endpoint = ?`, endpoint)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRepo) MarkSubscriptionUsed(ctx context.Context, endpoint string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_used_at = ? WHERE endpoint = ?`,
		at.Format(time.RFC3339Nano), endpoint)
	return err
}

func (r *sqliteRepo) SaveNotification(ctx context.Context, n notify.Notification) error {
	actions, err := encodeActions(n.Actions)
	if err != nil {
		return err
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO notifications(id, recipient_id, category, title, body, priority,
		   dedup_key, icon, click_url, actions, created_at, is_sent, is_read)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET is_sent=excluded.is_sent, is_read=excluded.is_read`,
		n.ID, n.RecipientID, string(n.Category), n.Title, n.Body, n.Priority,
		n.DedupKey, nullStr(n.Icon), nullStr(n.ClickURL), nullStr(actions),
		n.CreatedAt.Format(time.RFC3339Nano), boolInt(n.Sent), boolInt(n.Read),
	)
	return err
}

func (r *sqliteRepo) UnreadByDedupKey(ctx context.Context, recipientID, dedupKey string) (notify.Notification, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, recipient_id, category, title, body, priority, dedup_key,
		        icon, click_url, actions, created_at, is_sent, is_read
		 FROM notifications
		 WHERE recipient_id = ? AND dedup_key = ? AND is_read = 0
		 LIMIT 1`, recipientID, dedupKey)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.Notification{}, false, nil
	}
	if err != nil {
		return notify.Notification{}, false, err
	}
	return n, true, nil
}

func (r *sqliteRepo) ListNotifications(ctx context.Context, recipientID string, limit int) ([]notify.Notification, error) {
	q := `SELECT id, recipient_id, category, title, body, priority, dedup_key,
	             icon, click_url, actions, created_at, is_sent, is_read
	      FROM notifications WHERE recipient_id = ? ORDER BY created_at DESC`
	args := []any{recipientID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *sqliteRepo) MarkRead(ctx context.Context, recipientID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ph := strings.Repeat("?,", len(ids))
	ph = ph[:len(ph)-1]
	args := make([]any, 0, len(ids)+1)
	args = append(args, recipientID)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE recipient_id = ? AND id IN (`+ph+`)`, args...)
	return err
}

func (r *sqliteRepo) ClearRead(ctx context.Context, recipientID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE recipient_id = ? AND is_read = 1`, recipientID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sqliteRepo) PruneRead(ctx context.Context, recipientID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = ?`, recipientID).Scan(&total); err != nil {
		return 0, err
	}
	over := total - keep
	if over <= 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id IN (
			SELECT id FROM notifications
			WHERE recipient_id = ? AND is_read = 1
			ORDER BY created_at ASC LIMIT ?)`, recipientID, over)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- scan helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (notify.Notification, error) {
	var (
		n        notify.Notification
		cat      string
		icon     sql.NullString
		clickURL sql.NullString
		actions  sql.NullString
		created  string
		sent     int
		read     int
	)
	err := row.Scan(&n.ID, &n.RecipientID, &cat, &n.Title, &n.Body, &n.Priority,
		&n.DedupKey, &icon, &clickURL, &actions, &created, &sent, &read)
	if err != nil {
		return notify.Notification{}, err
	}
	n.Category = notify.Category(cat)
	n.Icon = icon.String
	n.ClickURL = clickURL.String
	n.CreatedAt = parseTime(created)
	n.Sent = sent != 0
	n.Read = read != 0
	if actions.Valid && actions.String != "" {
		if err := json.Unmarshal([]byte(actions.String), &n.Actions); err != nil {
			return notify.Notification{}, fmt.Errorf("decode actions for %s: %w", n.ID, err)
		}
	}
	return n, nil
}

func encodeActions(actions []notify.Action) (string, error) {
	if len(actions) == 0 {
		return "", nil
	}
	b, err := json.Marshal(actions)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
