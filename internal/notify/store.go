package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store keeps notifications in SQLite so the panel can show them when
// no Home Assistant instance is attached.
type Store struct {
	db *sql.DB
}

// NewStore creates a SQLite-backed notification store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Notify implements Notifier by upserting n.
func (s *Store) Notify(ctx context.Context, n Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (notification_id, title, message, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(notification_id) DO UPDATE SET title = excluded.title,
			message = excluded.message, created_at = excluded.created_at`
	_, err := s.db.ExecContext(ctx, query, n.ID, n.Title, n.Message, n.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("storing notification %s: %w", n.ID, err)
	}
	return nil
}

// List returns stored notifications, newest first.
func (s *Store) List(ctx context.Context) ([]Notification, error) {
	const query = `SELECT notification_id, title, message, created_at
		FROM notifications ORDER BY created_at DESC, notification_id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var n Notification
		var createdAt string
		if err := rows.Scan(&n.ID, &n.Title, &n.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		n.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Written by Notify in RFC3339
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notifications: %w", err)
	}
	return out, nil
}

// Dismiss deletes a notification.
func (s *Store) Dismiss(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE notification_id = ?`, id)
	if err != nil {
		return fmt.Errorf("dismissing notification %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
