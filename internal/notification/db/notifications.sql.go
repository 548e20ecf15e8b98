package db

import (
	"context"
)

const notificationColumns = `id, user_id, kind, payload, is_read, created_at, read_at`

const createNotification = `INSERT OR IGNORE INTO notifications (id, user_id, kind, payload, is_read, created_at)
VALUES (?, ?, ?, ?, ?, ?)`

// CreateNotificationParams はCreateNotificationの引数。
type CreateNotificationParams struct {
	ID        string
	UserID    string
	Kind      string
	Payload   string
	IsRead    int64
	CreatedAt string
}

// CreateNotification は通知を挿入する。同じIDが既にある場合は何もせずfalseを返す。
func (q *Queries) CreateNotification(ctx context.Context, arg CreateNotificationParams) (bool, error) {
	res, err := q.db.ExecContext(ctx, createNotification,
		arg.ID, arg.UserID, arg.Kind, arg.Payload, arg.IsRead, arg.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const getNotificationByID = `SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`

// GetNotificationByID はIDで通知を取得する。存在しない場合はsql.ErrNoRowsを返す。
func (q *Queries) GetNotificationByID(ctx context.Context, id string) (Notification, error) {
	row := q.db.QueryRowContext(ctx, getNotificationByID, id)
	var n Notification
	err := row.Scan(&n.ID, &n.UserID, &n.Kind, &n.Payload, &n.IsRead, &n.CreatedAt, &n.ReadAt)
	return n, err
}

const listNotificationsByUserID = `SELECT ` + notificationColumns + ` FROM notifications
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`

// ListNotificationsByUserID はユーザーの通知を新しい順に最大limit件取得する。
func (q *Queries) ListNotificationsByUserID(ctx context.Context, userID string, limit int64) ([]Notification, error) {
	return q.list(ctx, listNotificationsByUserID, userID, limit)
}

const listUnreadNotifications = `SELECT ` + notificationColumns + ` FROM notifications
WHERE user_id = ? AND is_read = 0
ORDER BY created_at DESC, id DESC
LIMIT ?`

// ListUnreadNotifications はユーザーの未読通知を新しい順に最大limit件取得する。
func (q *Queries) ListUnreadNotifications(ctx context.Context, userID string, limit int64) ([]Notification, error) {
	return q.list(ctx, listUnreadNotifications, userID, limit)
}

func (q *Queries) list(ctx context.Context, query string, args ...any) ([]Notification, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Payload, &n.IsRead, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

const countUnread = `SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`

// CountUnread はユーザーの未読通知数を返す。
func (q *Queries) CountUnread(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countUnread, userID).Scan(&n)
	return n, err
}

const markAsRead = `UPDATE notifications SET is_read = 1, read_at = ? WHERE id = ? AND is_read = 0`

// MarkAsRead は通知を既読にする。
func (q *Queries) MarkAsRead(ctx context.Context, id, readAt string) error {
	_, err := q.db.ExecContext(ctx, markAsRead, readAt, id)
	return err
}

const markAllAsRead = `UPDATE notifications SET is_read = 1, read_at = ? WHERE user_id = ? AND is_read = 0`

// MarkAllAsRead はユーザーの未読通知をすべて既読にし、更新件数を返す。
func (q *Queries) MarkAllAsRead(ctx context.Context, userID, readAt string) (int64, error) {
	res, err := q.db.ExecContext(ctx, markAllAsRead, readAt, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteReadBefore = `DELETE FROM notifications WHERE is_read = 1 AND read_at < ?`

// DeleteReadBefore はbeforeより前に既読にした通知を削除し、削除件数を返す。
func (q *Queries) DeleteReadBefore(ctx context.Context, before string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteReadBefore, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
