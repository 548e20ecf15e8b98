package album

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nao1215/cambiacromos/pkg/middleware"
	"github.com/nao1215/cambiacromos/pkg/optimistic"
	"github.com/nao1215/cambiacromos/pkg/server"
	"github.com/nao1215/cambiacromos/pkg/sse"
	pkgvalidation "github.com/nao1215/cambiacromos/pkg/validation"
)

// SSEのイベント名。
const (
	eventToast     = "toast"
	eventRefreshed = "refreshed"
)

// Server はアルバムサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサービス設定。
	cfg Config
	// sessions はユーザーごとのセッション。
	sessions *Sessions
	// broker はユーザーごとのSSE配信を行う。
	broker *sse.Broker
	// logger は構造化ロガー。
	logger *zap.SugaredLogger
	// metrics はHTTPメトリクスとレジストリ。
	metrics *middleware.Metrics
	// rollbacks は取り消された変更の数（変更の種類別）。
	rollbacks *prometheus.CounterVec
}

// NewServer は新しいアルバムサーバーを生成する。
func NewServer(cfg Config, factory GatewayFactory, logger *zap.SugaredLogger) *Server {
	metrics := middleware.NewMetrics("album")
	rollbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cambiacromos",
		Subsystem: "album",
		Name:      "rollbacks_total",
		Help:      "バックエンド呼び出しの失敗により取り消した変更の数",
	}, []string{"mutation"})
	metrics.Registry.MustRegister(rollbacks)

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(metrics.Middleware())

	s := &Server{
		router:    router,
		cfg:       cfg,
		broker:    sse.NewBroker(0),
		logger:    logger,
		metrics:   metrics,
		rollbacks: rollbacks,
	}
	s.sessions = NewSessions(factory, s.hooks, cfg.SessionIdleTTL, cfg.RemoteTimeout, logger)
	s.setupRoutes()
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーとセッションの掃除を起動し、ctxが終了するまで動かす。
func (s *Server) Run(ctx context.Context) error {
	return server.Run(ctx, ":"+s.cfg.Port, s.router, s.logger,
		s.sessions.RunJanitor, server.OnShutdown(s.broker.Close))
}

// hooks はユーザーのセッションで起きた出来事をSSEとメトリクスに流す。
func (s *Server) hooks(userID string) Hooks {
	return Hooks{
		OnRollback: func(mutation string, err error) {
			s.rollbacks.WithLabelValues(mutation).Inc()
			s.broker.Publish(userID, sse.Event{Type: eventToast, Data: gin.H{
				"mutation": mutation,
				"message":  ToastMessage(mutation),
			}})
		},
		OnRefreshed: func(store string) {
			s.broker.Publish(userID, sse.Event{Type: eventRefreshed, Data: gin.H{"store": store}})
		},
	}
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.cfg.JWTSecret))
	{
		me := api.Group("/me")
		{
			// 現在の状態を取得
			me.GET("", s.handleGetState())
			// サーバーから読み直す
			me.POST("/refresh", s.handleRefresh())
			// トーストとリフレッシュの通知（SSE）
			me.GET("/events", s.handleEvents())

			// プロフィール
			me.PUT("/nickname", s.handleUpdateNickname())
			me.PUT("/postcode", s.handleUpdatePostcode())

			// コレクション
			me.POST("/collections", s.handleAddCollection())
			me.DELETE("/collections/:id", s.handleRemoveCollection())
			me.PUT("/collections/:id/activate", s.handleActivateCollection())
			me.PUT("/collections/:id/slots/:slot_id", s.handleSetSticker(true))
			me.DELETE("/collections/:id/slots/:slot_id", s.handleSetSticker(false))

			// 出品
			me.DELETE("/listings/:id", s.handleDeleteListing())
			me.POST("/listings/:id/restore", s.handleRestoreListing())
		}
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "album"})
	})
	s.router.GET("/metrics", s.metrics.Handler())
}

// mutationResponse は変更系APIのレスポンス。
type mutationResponse struct {
	// Status はpending（バックグラウンドで送信中）、committed（反映済み）、rolled_back（取り消し）のいずれか。
	Status string `json:"status"`
	// Error は取り消された場合にユーザーに表示する文言。
	Error string `json:"error,omitempty"`
	// State は変更後（取り消し後）の状態。
	State View `json:"state"`
}

// session はリクエストのユーザーのセッションを返す。失敗した場合はレスポンスを書いてnilを返す。
func (s *Server) session(c *gin.Context) *Session {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No autorizado"})
		return nil
	}

	sess, err := s.sessions.Get(c.Request.Context(), userID, middleware.GetAccessToken(c))
	if err != nil {
		s.logger.Errorf("セッションの読み込みに失敗: user_id=%s, error=%v", userID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "No se pudieron cargar tus datos. Inténtalo de nuevo"})
		return nil
	}
	return sess
}

// mutate はセッションに対する変更を実行し、結果に応じたレスポンスを返す。
// ?wait=trueの場合はバックエンドへの呼び出しの完了まで待つ。
func (s *Server) mutate(c *gin.Context, op func(ctx context.Context, sess *Session, mode Mode) error) {
	sess := s.session(c)
	if sess == nil {
		return
	}

	mode := ModeDispatch
	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		mode = ModeWait
	}

	err := op(c.Request.Context(), sess, mode)

	var rollback *optimistic.RollbackError
	switch {
	case err == nil && mode == ModeWait:
		c.JSON(http.StatusOK, mutationResponse{Status: "committed", State: sess.View()})
	case err == nil:
		c.JSON(http.StatusAccepted, mutationResponse{Status: "pending", State: sess.View()})
	case pkgvalidation.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Datos no válidos", "fields": pkgvalidation.FieldErrors(err)})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "No encontrado"})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "No se puede realizar esta acción en el estado actual"})
	case errors.As(err, &rollback):
		c.JSON(http.StatusBadGateway, mutationResponse{
			Status: "rolled_back",
			Error:  ToastMessage(rollback.Mutation),
			State:  sess.View(),
		})
	default:
		s.logger.Errorf("変更の実行に失敗: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Se ha producido un error interno"})
	}
}

// pathID はパスパラメータを正の整数として解釈する。失敗した場合はレスポンスを書いてfalseを返す。
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Identificador no válido"})
		return 0, false
	}
	return id, true
}

// handleGetState は現在の状態を返すハンドラ。
func (s *Server) handleGetState() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := s.session(c)
		if sess == nil {
			return
		}
		c.JSON(http.StatusOK, sess.View())
	}
}

// handleRefresh はサーバーから状態を読み直すハンドラ。
func (s *Server) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := s.session(c)
		if sess == nil {
			return
		}
		if err := sess.Reload(c.Request.Context()); err != nil {
			s.logger.Errorf("セッションの再読み込みに失敗: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "No se pudieron cargar tus datos. Inténtalo de nuevo"})
			return
		}
		c.JSON(http.StatusOK, sess.View())
	}
}

// handleEvents はトーストとリフレッシュの通知をSSEで配信するハンドラ。
func (s *Server) handleEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "No autorizado"})
			return
		}
		s.broker.ServeTopic(c.Writer, c.Request, userID)
	}
}

// nicknameRequest はニックネーム変更リクエスト。
type nicknameRequest struct {
	// Nickname は新しいニックネーム。
	Nickname string `json:"nickname"`
}

// handleUpdateNickname はニックネームを変更するハンドラ。
func (s *Server) handleUpdateNickname() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req nicknameRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Solicitud no válida"})
			return
		}
		s.mutate(c, func(ctx context.Context, sess *Session, mode Mode) error {
			return sess.UpdateNickname(ctx, req.Nickname, mode)
		})
	}
}

// postcodeRequest は郵便番号変更リクエスト。
type postcodeRequest struct {
	// Postcode は新しい郵便番号。
	Postcode string `json:"postcode"`
}

// handleUpdatePostcode は郵便番号を変更するハンドラ。
func (s *Server) handleUpdatePostcode() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req postcodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Solicitud no válida"})
			return
		}
		s.mutate(c, func(ctx context.Context, sess *Session, mode Mode) error {
			return sess.UpdatePostcode(ctx, req.Postcode, mode)
		})
	}
}

// addCollectionRequest はコレクション追加リクエスト。
type addCollectionRequest struct {
	// TemplateID は追加するテンプレートのID。
	TemplateID int64 `json:"template_id"`
	// Title はサーバーから取得するまで表示するコレクション名。
	Title string `json:"title"`
}

// handleAddCollection はコレクションを追加するハンドラ。
func (s *Server) handleAddCollection() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addCollectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Solicitud no válida"})
			return
		}
		s.mutate(c, func(ctx context.Context, sess *Session, mode Mode) error {
			return sess.AddCollection(ctx, req.TemplateID, req.Title, mode)
		})
	}
}

// handleRemoveCollection はコレクションを削除するハンドラ。
func (s *Server) handleRemoveCollection() gin.HandlerFunc {
	return func(c *gin.Context) {
		templateID, ok := pathID(c, "id")
		if !ok {
			return
		}
		s.mutate(c, func(ctx context.Context, sess *Session, mode Mode) error {
			return sess.RemoveCollection(ctx, templateID, mode)
		})
	}
}

// handleActivateCollection はコレクションをアクティブにするハンドラ。
func (s *Server) handleActivateCollection() gin.HandlerFunc {
	return func(c *gin.Context) {
		templateID, ok := pathID(c, "id")
		if !ok {
			return
		}
		s.mutate(c, func(ctx context.Context, sess *Session, mode Mode) error {
			return sess.ActivateCollection(ctx, templateID, mode)
		})
	}
}

// handleSetSticker はスロットの所有状態を変更するハンドラ。
func (s *Server) handleSetSticker(owned bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		templateID, ok := pathID(c, "id")
		if !ok {
			return
		}
		slotID, ok := pathID(c, "slot_id")
		if !ok {
			return
		}
		s.mutate(c, func(ctx context.Context, sess *Session, mode Mode) error {
			if owned {
				return sess.MarkSticker(ctx, templateID, slotID, mode)
			}
			return sess.UnmarkSticker(ctx, templateID, slotID, mode)
		})
	}
}

// handleDeleteListing は出品を論理削除するハンドラ。
func (s *Server) handleDeleteListing() gin.HandlerFunc {
	return func(c *gin.Context) {
		listingID, ok := pathID(c, "id")
		if !ok {
			return
		}
		s.mutate(c, func(ctx context.Context, sess *Session, mode Mode) error {
			return sess.DeleteListing(ctx, listingID, mode)
		})
	}
}

// handleRestoreListing は出品を元に戻すハンドラ。
func (s *Server) handleRestoreListing() gin.HandlerFunc {
	return func(c *gin.Context) {
		listingID, ok := pathID(c, "id")
		if !ok {
			return
		}
		s.mutate(c, func(ctx context.Context, sess *Session, mode Mode) error {
			return sess.RestoreListing(ctx, listingID, mode)
		})
	}
}
