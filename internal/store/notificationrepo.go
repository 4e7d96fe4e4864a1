package store

import (
	"context"
	"fmt"

	"github.com/systmms/credops/internal/notify"
)

// Compile-time interface satisfaction check.
var _ notify.InAppStore = (*NotificationRepo)(nil)

// NotificationRepo persists in-app notifications.
type NotificationRepo struct {
	db *DB
}

// NewNotificationRepo creates a notification repository.
func NewNotificationRepo(db *DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// SaveMessage stores one notification.
func (r *NotificationRepo) SaveMessage(ctx context.Context, msg *notify.InAppMessage) error {
	const query = `INSERT INTO notifications (id, type, severity, title, message, credential_id, recipient, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Writer.ExecContext(ctx, query,
		msg.ID, string(msg.Type), string(msg.Severity), msg.Title, msg.Message,
		msg.CredentialID, msg.Recipient, boolToInt(msg.Read), formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}

// ListUnread returns unread notifications for a recipient, newest first.
// An empty recipient returns broadcast notifications.
func (r *NotificationRepo) ListUnread(ctx context.Context, recipient string, limit int) ([]notify.InAppMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, type, severity, title, message, credential_id, recipient, read, created_at
		FROM notifications WHERE recipient = ? AND read = 0 ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.Reader.QueryContext(ctx, query, recipient, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var messages []notify.InAppMessage
	for rows.Next() {
		var (
			msg       notify.InAppMessage
			msgType   string
			severity  string
			read      int
			createdAt string
		)
		if err := rows.Scan(&msg.ID, &msgType, &severity, &msg.Title, &msg.Message,
			&msg.CredentialID, &msg.Recipient, &read, &createdAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		msg.Type = notify.EventType(msgType)
		msg.Severity = notify.Severity(severity)
		msg.Read = read != 0
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return messages, nil
}

// MarkRead flags one notification as read.
func (r *NotificationRepo) MarkRead(ctx context.Context, id string) error {
	const query = `UPDATE notifications SET read = 1 WHERE id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}
