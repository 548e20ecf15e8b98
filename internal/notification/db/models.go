package db

import "database/sql"

// Notification はnotificationsテーブルの1行。
type Notification struct {
	ID        string
	UserID    string
	Kind      string
	Payload   string
	IsRead    int64
	CreatedAt string
	ReadAt    sql.NullString
}
