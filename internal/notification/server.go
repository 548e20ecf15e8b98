package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	notificationdb "github.com/nao1215/cambiacromos/internal/notification/db"
	"github.com/nao1215/cambiacromos/pkg/event"
	"github.com/nao1215/cambiacromos/pkg/middleware"
	"github.com/nao1215/cambiacromos/pkg/server"
	"github.com/nao1215/cambiacromos/pkg/sse"
	"github.com/nao1215/cambiacromos/pkg/supabase"
)

// maxPageSize は一覧取得で指定できる最大件数。
const maxPageSize = 100

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサービス設定。
	cfg Config
	// queries は通知テーブルへのクエリ実行オブジェクト。
	queries *notificationdb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// broker はユーザーごとのSSE配信を行う。
	broker *sse.Broker
	// logger は構造化ロガー。
	logger *zap.SugaredLogger
	// metrics はHTTPメトリクスとレジストリ。
	metrics *middleware.Metrics
	// ingested は保存した通知数（取り込み経路別）。
	ingested *prometheus.CounterVec
	// purged は定期削除した通知数。
	purged prometheus.Counter
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// NewServer は新しい通知サーバーを生成する。sqlDBはOpenDBで開いたものを渡す。
func NewServer(cfg Config, sqlDB *sql.DB, logger *zap.SugaredLogger) *Server {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}

	metrics := middleware.NewMetrics("notification")
	ingested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cambiacromos",
		Subsystem: "notification",
		Name:      "ingested_total",
		Help:      "保存した通知数",
	}, []string{"source"})
	purged := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cambiacromos",
		Subsystem: "notification",
		Name:      "purged_total",
		Help:      "定期削除した既読通知数",
	})
	metrics.Registry.MustRegister(ingested, purged)

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(metrics.Middleware())

	s := &Server{
		router:   router,
		cfg:      cfg,
		queries:  notificationdb.New(sqlDB),
		db:       sqlDB,
		broker:   sse.NewBroker(0),
		logger:   logger,
		metrics:  metrics,
		ingested: ingested,
		purged:   purged,
		now:      time.Now,
	}
	s.setupRoutes()
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバー、Realtimeの購読、定期削除ジョブを起動し、ctxが終了するまで動かす。
func (s *Server) Run(ctx context.Context) error {
	tasks := []server.Task{s.runPurgeScheduler, server.OnShutdown(s.broker.Close)}
	if s.cfg.RealtimeEnabled() {
		rt := supabase.NewRealtime(s.cfg.SupabaseURL, s.cfg.SupabaseServiceKey, "notifications",
			supabase.WithRealtimeLogger(s.logger),
		).On(supabase.PostgresChanges{Event: "INSERT", Table: "notifications"}, s.handleChange)
		tasks = append(tasks, rt.Run)
	} else {
		s.logger.Warn("SUPABASE_URLが未設定のためRealtimeの購読を行いません")
	}

	return server.Run(ctx, ":"+s.cfg.Port, s.router, s.logger, tasks...)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.cfg.JWTSecret))
	{
		notifications := api.Group("/notifications")
		{
			// 通知一覧取得
			notifications.GET("", s.handleList())
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleListUnread())
			// 未読件数取得
			notifications.GET("/unread/count", s.handleUnreadCount())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
			// SSEによるプッシュ配信
			notifications.GET("/stream", s.handleStream())
		}

		// 通知送信（内部API - サービスロールのみ）
		internal := api.Group("/internal")
		{
			internal.POST("/send", s.handleSend())
		}
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
	s.router.GET("/metrics", s.metrics.Handler())
}

// notificationResponse は通知のJSONレスポンス構造。整形済みの表示項目を含む。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// Kind は通知種別。
	Kind event.Kind `json:"kind"`
	// Payload は種別ごとの付加情報。
	Payload json.RawMessage `json:"payload"`
	// IsRead は通知の既読状態。
	IsRead bool `json:"is_read"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`

	event.Display
}

// toNotification はDB行を通知に変換する。
func toNotification(n notificationdb.Notification) *event.Notification {
	return &event.Notification{
		ID:        n.ID,
		UserID:    n.UserID,
		Kind:      event.Kind(n.Kind),
		Payload:   json.RawMessage(n.Payload),
		IsRead:    n.IsRead != 0,
		CreatedAt: parseTime(n.CreatedAt),
	}
}

// toNotificationResponse は通知をJSONレスポンスに変換する。
func toNotificationResponse(n *event.Notification) notificationResponse {
	payload := n.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return notificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Kind:      n.Kind,
		Payload:   payload,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
		Display:   event.Format(n.Raw()),
	}
}

// toNotificationResponses はDB行のスライスをJSONレスポンスのスライスに変換する。
func toNotificationResponses(rows []notificationdb.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(rows))
	for _, row := range rows {
		responses = append(responses, toNotificationResponse(toNotification(row)))
	}
	return responses
}

// pageSize はlimitクエリパラメータを解釈する。
func (s *Server) pageSize(c *gin.Context) (int64, error) {
	raw := c.Query("limit")
	if raw == "" {
		return int64(s.cfg.PageSize), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxPageSize {
		return 0, fmt.Errorf("limit debe ser un entero entre 1 y %d", maxPageSize)
	}
	return int64(n), nil
}

// handleList は認証済みユーザーの通知一覧を新しい順に返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "No autorizado"})
			return
		}
		limit, err := s.pageSize(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rows, err := s.queries.ListNotificationsByUserID(c.Request.Context(), userID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudieron cargar las notificaciones"})
			s.logger.Errorf("通知一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(rows))
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "No autorizado"})
			return
		}
		limit, err := s.pageSize(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rows, err := s.queries.ListUnreadNotifications(c.Request.Context(), userID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudieron cargar las notificaciones"})
			s.logger.Errorf("未読通知一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(rows))
	}
}

// handleUnreadCount は未読件数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "No autorizado"})
			return
		}

		count, err := s.queries.CountUnread(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo obtener el número de notificaciones sin leer"})
			s.logger.Errorf("未読件数取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "No autorizado"})
			return
		}

		notificationID := c.Param("id")

		// 通知の存在確認と所有者チェック
		n, err := s.queries.GetNotificationByID(c.Request.Context(), notificationID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Notificación no encontrada"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo cargar la notificación"})
			s.logger.Errorf("通知取得エラー: %v", err)
			return
		}
		if n.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "No tienes permiso para modificar esta notificación"})
			return
		}

		if err := s.queries.MarkAsRead(c.Request.Context(), notificationID, formatTime(s.now())); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo marcar la notificación como leída"})
			s.logger.Errorf("通知既読処理エラー: %v", err)
			return
		}
		s.publishUnreadCount(c.Request.Context(), userID)

		c.JSON(http.StatusOK, gin.H{"message": "Notificación marcada como leída"})
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "No autorizado"})
			return
		}

		updated, err := s.queries.MarkAllAsRead(c.Request.Context(), userID, formatTime(s.now()))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudieron marcar las notificaciones como leídas"})
			s.logger.Errorf("全通知既読処理エラー: %v", err)
			return
		}
		s.publishUnreadCount(c.Request.Context(), userID)

		c.JSON(http.StatusOK, gin.H{"message": "Todas las notificaciones marcadas como leídas", "updated": updated})
	}
}

// handleStream は認証済みユーザー宛ての通知をSSEで配信するハンドラ。
func (s *Server) handleStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "No autorizado"})
			return
		}
		s.broker.ServeTopic(c.Writer, c.Request, userID)
	}
}
