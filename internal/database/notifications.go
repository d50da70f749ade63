package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"huddle/pkg/types"
)

// CreateNotification stores n. CreatedAt is filled in when zero.
func (m *Manager) CreateNotification(ctx context.Context, n *types.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO notifications (id, user_id, type, title, message, is_read, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, n.ID, n.UserID, n.Type, n.Title, n.Message, n.IsRead, n.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}
		return nil
	})
}

// ListNotifications returns the newest notifications of userID first.
func (m *Manager) ListNotifications(ctx context.Context, userID string, limit int) ([]*types.Notification, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, user_id, type, title, message, is_read, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*types.Notification{}
	for rows.Next() {
		var n types.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// MarkNotificationRead marks one notification of userID as read.
func (m *Manager) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			"UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?",
			notificationID, userID)
		if err != nil {
			return fmt.Errorf("failed to update notification: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNotificationNotFound, notificationID)
		}
		return nil
	})
}

// MarkAllNotificationsRead marks every unread notification of userID and
// returns how many changed.
func (m *Manager) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	var updated int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			"UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0", userID)
		if err != nil {
			return fmt.Errorf("failed to update notifications: %w", err)
		}
		updated, _ = res.RowsAffected()
		return nil
	})
	return updated, err
}

// DeleteNotification removes one notification of userID.
func (m *Manager) DeleteNotification(ctx context.Context, userID, notificationID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			"DELETE FROM notifications WHERE id = ? AND user_id = ?", notificationID, userID)
		if err != nil {
			return fmt.Errorf("failed to delete notification: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNotificationNotFound, notificationID)
		}
		return nil
	})
}
