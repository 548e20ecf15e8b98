package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	notificationdb "github.com/nao1215/cambiacromos/internal/notification/db"
	"github.com/nao1215/cambiacromos/pkg/event"
	"github.com/nao1215/cambiacromos/pkg/middleware"
	"github.com/nao1215/cambiacromos/pkg/sse"
	"github.com/nao1215/cambiacromos/pkg/supabase"
	pkgvalidation "github.com/nao1215/cambiacromos/pkg/validation"
)

// 取り込み経路。メトリクスのラベルに使う。
const (
	sourceAPI      = "api"
	sourceRealtime = "realtime"
)

// SSEのイベント名。
const (
	eventNotification = "notification"
	eventUnreadCount  = "unread_count"
)

// Ingest は通知を保存し、新規であれば宛先ユーザーのSSEストリームに配信する。
// 同じIDの通知が既にある場合は何もせずfalseを返す。
func (s *Server) Ingest(ctx context.Context, n *event.Notification, source string) (bool, error) {
	payload := string(n.Payload)
	if payload == "" || payload == "null" {
		payload = "{}"
	}
	isRead := int64(0)
	if n.IsRead {
		isRead = 1
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}

	inserted, err := s.queries.CreateNotification(ctx, notificationdb.CreateNotificationParams{
		ID:        n.ID,
		UserID:    n.UserID,
		Kind:      string(n.Kind),
		Payload:   payload,
		IsRead:    isRead,
		CreatedAt: formatTime(n.CreatedAt),
	})
	if err != nil {
		return false, fmt.Errorf("通知の保存に失敗: %w", err)
	}
	if !inserted {
		return false, nil
	}

	s.ingested.WithLabelValues(source).Inc()
	s.broker.Publish(n.UserID, sse.Event{Type: eventNotification, Data: toNotificationResponse(n)})
	s.publishUnreadCount(ctx, n.UserID)
	return true, nil
}

// publishUnreadCount は最新の未読件数をSSEで配信する。
func (s *Server) publishUnreadCount(ctx context.Context, userID string) {
	count, err := s.queries.CountUnread(ctx, userID)
	if err != nil {
		s.logger.Warnf("未読件数の取得に失敗: user_id=%s, error=%v", userID, err)
		return
	}
	s.broker.Publish(userID, sse.Event{Type: eventUnreadCount, Data: gin.H{"count": count}})
}

// sendRequest は通知送信リクエストのJSON構造。
type sendRequest struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// Kind は通知種別。
	Kind event.Kind `json:"kind"`
	// Payload は種別ごとの付加情報。
	Payload event.Payload `json:"payload"`
}

// Validate はリクエストを検証する。
func (r sendRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.Kind, validation.Required, validation.In(event.KindValues()...).Error("Tipo de notificación desconocido")),
	)
}

// handleSend は通知を作成して保存・配信するハンドラ。
// 内部API（他サービスから呼び出される）のためサービスロールのトークンが必要。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		if middleware.GetRole(c) != middleware.RoleServiceRole {
			c.JSON(http.StatusForbidden, gin.H{"error": "No tienes permiso para realizar esta acción"})
			return
		}

		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Solicitud no válida"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Solicitud no válida", "fields": pkgvalidation.FieldErrors(err)})
			return
		}

		n, err := event.New(req.UserID, req.Kind, req.Payload)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Carga de la notificación no válida"})
			return
		}

		if _, err := s.Ingest(c.Request.Context(), n, sourceAPI); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo crear la notificación"})
			s.logger.Errorf("通知作成エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, toNotificationResponse(n))
	}
}

// realtimeRow はRealtimeで受信するnotificationsテーブルの行。
type realtimeRow struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	IsRead    bool            `json:"is_read"`
	CreatedAt string          `json:"created_at"`
}

// handleChange はバックエンドのnotificationsテーブルへの挿入を取り込む。
// 未知の種別も保存し、表示時に汎用の通知として整形する。
func (s *Server) handleChange(change supabase.Change) {
	var row realtimeRow
	if err := json.Unmarshal(change.Record, &row); err != nil {
		s.logger.Errorf("Realtimeの通知レコードの解析に失敗: %v", err)
		return
	}
	if row.ID == "" || row.UserID == "" {
		s.logger.Warnf("idまたはuser_idがない通知レコードを無視します: %s", string(change.Record))
		return
	}

	createdAt, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
	if err != nil {
		createdAt = s.now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n := &event.Notification{
		ID:        row.ID,
		UserID:    row.UserID,
		Kind:      event.Kind(row.Kind),
		Payload:   row.Payload,
		IsRead:    row.IsRead,
		CreatedAt: createdAt,
	}
	if _, err := s.Ingest(ctx, n, sourceRealtime); err != nil {
		s.logger.Errorf("Realtimeの通知の取り込みに失敗: id=%s, error=%v", row.ID, err)
	}
}
