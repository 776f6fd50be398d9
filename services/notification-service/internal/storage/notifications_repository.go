package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/studiobook/libs/db"
	"github.com/md-rashed-zaman/studiobook/services/notification-service/internal/notifications"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ notifications.Store = (*Repository)(nil)

// Insert ignores a notification whose id already exists and reports whether it was stored.
func (r *Repository) Insert(ctx context.Context, n notifications.Notification) (bool, error) {
	title, err := json.Marshal(n.Title)
	if err != nil {
		return false, err
	}
	message, err := json.Marshal(n.Message)
	if err != nil {
		return false, err
	}
	var appointmentID *string
	if n.AppointmentID != "" {
		appointmentID = &n.AppointmentID
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, appointment_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, n.ID, n.UserID, n.Kind, title, message, appointmentID, n.CreatedAt, n.ExpiresAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) List(ctx context.Context, userID string, limit int) ([]notifications.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, user_id, type, title, message, COALESCE(appointment_id, ''), is_read, created_at, expires_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notifications.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM notifications WHERE user_id = $1 AND NOT is_read
	`, userID).Scan(&n)
	return n, err
}

func (r *Repository) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET is_read = true WHERE user_id = $1 AND NOT is_read
	`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) Delete(ctx context.Context, userID, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (notifications.Notification, error) {
	var (
		n              notifications.Notification
		title, message []byte
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.Kind, &title, &message, &n.AppointmentID, &n.IsRead, &n.CreatedAt, &n.ExpiresAt); err != nil {
		return notifications.Notification{}, err
	}
	if err := json.Unmarshal(title, &n.Title); err != nil {
		return notifications.Notification{}, err
	}
	if len(message) > 0 {
		if err := json.Unmarshal(message, &n.Message); err != nil {
			return notifications.Notification{}, err
		}
	}
	return n, nil
}
