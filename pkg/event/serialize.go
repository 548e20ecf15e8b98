package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New は新しい未読の通知を生成する。
// payloadはJSON形式にシリアライズされる。nilの場合は空オブジェクトになる。
func New(userID string, kind Kind, payload Payload) (*Notification, error) {
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("通知ペイロードのシリアライズに失敗: %w", err)
	}

	return &Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Kind:      kind,
		Payload:   data,
		IsRead:    false,
		CreatedAt: time.Now().UTC(),
	}, nil
}
