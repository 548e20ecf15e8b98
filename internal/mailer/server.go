package mailer

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nao1215/cambiacromos/pkg/email"
	"github.com/nao1215/cambiacromos/pkg/event"
	"github.com/nao1215/cambiacromos/pkg/middleware"
	"github.com/nao1215/cambiacromos/pkg/server"
	pkgvalidation "github.com/nao1215/cambiacromos/pkg/validation"
)

// メールの種類。メトリクスと送信APIのタグに使う。
const (
	kindCorporate    = "corporate"
	kindNotification = "notification"
)

// Server はメール中継サービスのHTTPサーバー。
type Server struct {
	router    *gin.Engine
	cfg       Config
	sender    email.Sender
	directory Directory
	logger    *zap.SugaredLogger
	metrics   *middleware.Metrics
	// sent は送信結果の数（種類・結果別）。
	sent *prometheus.CounterVec
}

// NewServer は新しいメール中継サーバーを生成する。
func NewServer(cfg Config, sender email.Sender, directory Directory, logger *zap.SugaredLogger) *Server {
	metrics := middleware.NewMetrics("mailer")
	sent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cambiacromos",
		Subsystem: "mailer",
		Name:      "emails_total",
		Help:      "送信を試みたメールの数",
	}, []string{"kind", "result"})
	metrics.Registry.MustRegister(sent)

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(metrics.Middleware())
	router.Use(middleware.CORS(cfg.Origins()))

	s := &Server{
		router:    router,
		cfg:       cfg,
		sender:    sender,
		directory: directory,
		logger:    logger,
		metrics:   metrics,
		sent:      sent,
	}
	s.setupRoutes()
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxが終了するまで動かす。
func (s *Server) Run(ctx context.Context) error {
	return server.Run(ctx, ":"+s.cfg.Port, s.router, s.logger)
}

func (s *Server) setupRoutes() {
	limiter := middleware.NewRateLimiter(s.cfg.RateLimitPerMinute, s.cfg.RateLimitBurst)

	fn := s.router.Group("/functions/v1")
	fn.Use(middleware.JWTAuth(s.cfg.JWTSecret))
	fn.Use(middleware.RateLimit(limiter))
	{
		fn.POST("/send-corporate-email", s.handleCorporate())
		fn.POST("/send-email-notification", s.handleNotification())
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "mailer"})
	})
	s.router.GET("/metrics", s.metrics.Handler())
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

func invalid(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   "Datos no válidos",
		"fields":  pkgvalidation.FieldErrors(err),
	})
}

// send はメールを送信し、結果をメトリクスに記録してレスポンスを返す。
func (s *Server) send(c *gin.Context, kind string, msg email.Message) {
	msg.From = s.cfg.From
	msg.Tags = append(msg.Tags, email.Tag{Name: "category", Value: kind})

	id, err := s.sender.Send(c.Request.Context(), msg)
	if err != nil {
		s.sent.WithLabelValues(kind, "error").Inc()
		s.logger.Errorf("メール送信に失敗: kind=%s, error=%v", kind, err)
		fail(c, http.StatusBadGateway, "No se pudo enviar el correo. Inténtalo de nuevo más tarde")
		return
	}

	s.sent.WithLabelValues(kind, "sent").Inc()
	s.logger.Infof("メールを送信しました: kind=%s, id=%s, recipients=%d", kind, id, len(msg.To))
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

// corporateRequest は管理者からの一斉メールのリクエスト。
type corporateRequest struct {
	// To は宛先。
	To []string `json:"to"`
	// Subject は件名。
	Subject string `json:"subject"`
	// HTML はHTML本文。
	HTML string `json:"html"`
	// Text はテキスト本文。
	Text string `json:"text"`
	// ReplyTo は返信先。
	ReplyTo string `json:"reply_to"`
}

// Validate はリクエストを検証する。本文はHTMLかテキストのどちらかが必要。
func (r corporateRequest) Validate() error {
	errs := validation.Errors{
		"to":       pkgvalidation.ValidateRecipients(r.To),
		"subject":  pkgvalidation.ValidateSubject(r.Subject),
		"reply_to": validation.Validate(r.ReplyTo, pkgvalidation.Email),
	}
	if strings.TrimSpace(r.HTML) == "" && strings.TrimSpace(r.Text) == "" {
		errs["html"] = validation.NewError("validation_body_required", "El contenido del correo es obligatorio")
	}
	return errs.Filter()
}

// handleCorporate は管理者からの一斉メールを送るハンドラ。
// サービスロールまたはprofiles.is_adminが真のユーザーだけが使える。
func (s *Server) handleCorporate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.authorizeAdmin(c) {
			return
		}

		var req corporateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Solicitud no válida")
			return
		}
		if err := req.Validate(); err != nil {
			invalid(c, err)
			return
		}

		msg := email.Message{
			To:      req.To,
			Subject: strings.TrimSpace(req.Subject),
			HTML:    req.HTML,
			Text:    req.Text,
		}
		if req.ReplyTo != "" {
			msg.ReplyTo = []string{req.ReplyTo}
		}
		s.send(c, kindCorporate, msg)
	}
}

// authorizeAdmin は管理者でなければレスポンスを書いてfalseを返す。
func (s *Server) authorizeAdmin(c *gin.Context) bool {
	if middleware.GetRole(c) == middleware.RoleServiceRole {
		return true
	}

	userID := middleware.GetUserID(c)
	admin, err := s.directory.IsAdmin(c.Request.Context(), userID)
	if err != nil {
		s.logger.Errorf("管理者権限の確認に失敗: user_id=%s, error=%v", userID, err)
		fail(c, http.StatusBadGateway, "No se pudieron comprobar tus permisos")
		return false
	}
	if !admin {
		s.logger.Warnf("管理者以外による一斉メールの送信を拒否: user_id=%s", userID)
		fail(c, http.StatusForbidden, "Solo los administradores pueden enviar este correo")
		return false
	}
	return true
}

// notificationRequest は通知メールのリクエスト。
type notificationRequest struct {
	// To は宛先。サービスロールの呼び出しでのみ指定できる。
	To string `json:"to"`
	// Kind は通知種別。
	Kind event.Kind `json:"kind"`
	// Payload は種別ごとの付加情報。
	Payload event.Payload `json:"payload"`
}

// Validate はリクエストを検証する。
func (r notificationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.To, pkgvalidation.Email),
		validation.Field(&r.Kind, validation.Required.Error("El tipo de notificación es obligatorio"),
			validation.In(event.KindValues()...).Error("Tipo de notificación desconocido")),
	)
}

// handleNotification は通知を整形してメールで送るハンドラ。
// 宛先はサービスロールならリクエストのto、それ以外はトークンの持ち主のメールアドレス。
func (s *Server) handleNotification() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req notificationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Solicitud no válida")
			return
		}
		if err := req.Validate(); err != nil {
			invalid(c, err)
			return
		}

		to, ok := s.recipient(c, req.To)
		if !ok {
			return
		}

		rendered, err := RenderNotification(s.cfg.SiteURL, event.Raw{Kind: req.Kind, Payload: req.Payload})
		if err != nil {
			s.logger.Errorf("通知メールの生成に失敗: %v", err)
			fail(c, http.StatusInternalServerError, "Se ha producido un error interno")
			return
		}

		s.send(c, kindNotification, email.Message{
			To:      []string{to},
			Subject: rendered.Subject,
			HTML:    rendered.HTML,
			Text:    rendered.Text,
			Tags:    []email.Tag{{Name: "notification_kind", Value: string(req.Kind)}},
		})
	}
}

// recipient は通知メールの宛先を決める。決められない場合はレスポンスを書いてfalseを返す。
func (s *Server) recipient(c *gin.Context, requested string) (string, bool) {
	if middleware.GetRole(c) == middleware.RoleServiceRole {
		if requested == "" {
			invalid(c, validation.Errors{"to": validation.NewError("validation_to_required", "Indica el destinatario")})
			return "", false
		}
		return requested, true
	}
	if requested != "" {
		fail(c, http.StatusForbidden, "No puedes enviar notificaciones a otros usuarios")
		return "", false
	}

	if addr := middleware.GetEmail(c); addr != "" {
		return addr, true
	}
	addr, err := s.directory.UserEmail(c.Request.Context(), middleware.GetAccessToken(c))
	if err != nil || addr == "" {
		s.logger.Errorf("宛先のメールアドレスを取得できません: user_id=%s, error=%v", middleware.GetUserID(c), err)
		fail(c, http.StatusBadGateway, "No se encontró tu dirección de correo")
		return "", false
	}
	return addr, true
}
