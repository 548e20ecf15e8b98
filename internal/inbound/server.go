package inbound

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nao1215/cambiacromos/pkg/middleware"
	"github.com/nao1215/cambiacromos/pkg/server"
)

// maxBodyBytes は受け付けるWebhookボディの上限。
const maxBodyBytes = 10 << 20

// Server は受信メール中継サービスのHTTPサーバー。
type Server struct {
	router    *gin.Engine
	cfg       Config
	verifier  *Verifier
	deduper   Deduper
	store     Store
	forwarder *Forwarder
	logger    *zap.SugaredLogger
	metrics   *middleware.Metrics
	// outcomes は受信したWebhookの処理結果の数。
	outcomes *prometheus.CounterVec
	now      func() time.Time
}

// NewServer は新しい受信メール中継サーバーを生成する。
func NewServer(cfg Config, verifier *Verifier, deduper Deduper, store Store, forwarder *Forwarder, logger *zap.SugaredLogger) *Server {
	metrics := middleware.NewMetrics("inbound")
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cambiacromos",
		Subsystem: "inbound",
		Name:      "webhooks_total",
		Help:      "受信したWebhookの処理結果",
	}, []string{"outcome"})
	metrics.Registry.MustRegister(outcomes)

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(metrics.Middleware())

	s := &Server{
		router:    router,
		cfg:       cfg,
		verifier:  verifier,
		deduper:   deduper,
		store:     store,
		forwarder: forwarder,
		logger:    logger,
		metrics:   metrics,
		outcomes:  outcomes,
		now:       time.Now,
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
	limiter := middleware.NewRateLimiter(s.cfg.RateLimitPerMinute, s.cfg.RateLimitPerMinute)

	fn := s.router.Group("/functions/v1")
	fn.Use(middleware.RateLimit(limiter))
	fn.POST("/receive-inbound-email", s.handleReceive())

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "inbound"})
	})
	s.router.GET("/metrics", s.metrics.Handler())
}

// receiveResponse はWebhookへの応答。送信元のリトライを避けるため常に200で返す。
type receiveResponse struct {
	Received  bool   `json:"received"`
	Status    Status `json:"status,omitempty"`
	Forwarded int    `json:"forwarded"`
	Total     int    `json:"total"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
}

func (s *Server) respond(c *gin.Context, outcome string, resp receiveResponse) {
	s.outcomes.WithLabelValues(outcome).Inc()
	c.JSON(http.StatusOK, resp)
}

// handleReceive は受信メールのWebhookを処理するハンドラ。
func (s *Server) handleReceive() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			s.logger.Errorf("Webhookのボディの読み込みに失敗: %v", err)
			s.respond(c, "invalid_body", receiveResponse{})
			return
		}

		deliveryID, err := s.verifier.Verify(c.Request.Header, body)
		if err != nil {
			s.logger.Errorf("Webhookの署名の検証に失敗: %v", err)
			s.respond(c, "invalid_signature", receiveResponse{})
			return
		}

		first, err := s.deduper.First(ctx, deliveryID, s.cfg.DedupeTTL)
		if err != nil {
			s.logger.Warnf("重複判定に失敗したため処理を続行: delivery_id=%s, error=%v", deliveryID, err)
			first = true
		}
		if !first {
			s.logger.Infof("重複したWebhookを無視: delivery_id=%s", deliveryID)
			s.respond(c, "duplicate", receiveResponse{Received: true, Duplicate: true})
			return
		}

		in, err := ParseEmail(body)
		if errors.Is(err, ErrUnsupportedEvent) {
			s.respond(c, "ignored", receiveResponse{Received: true, Ignored: true})
			return
		}
		if err != nil {
			s.logger.Errorf("受信メールの解析に失敗: delivery_id=%s, error=%v", deliveryID, err)
			s.respond(c, "invalid_payload", receiveResponse{Received: true})
			return
		}

		if err := s.store.Archive(ctx, deliveryID, body); err != nil {
			s.logger.Warnf("受信メールの保存に失敗: delivery_id=%s, error=%v", deliveryID, err)
		}

		entry, total := s.process(ctx, deliveryID, in)
		if err := s.store.SaveLog(ctx, entry); err != nil {
			s.logger.Errorf("受信ログの保存に失敗: delivery_id=%s, error=%v", deliveryID, err)
		}

		s.respond(c, string(entry.Status), receiveResponse{
			Received:  true,
			Status:    entry.Status,
			Forwarded: entry.ForwardedCount,
			Total:     total,
		})
	}
}

// process は転送先を取得して転送し、記録する内容と転送先の数を返す。
func (s *Server) process(ctx context.Context, deliveryID string, in Email) (LogEntry, int) {
	entry := LogEntry{
		DeliveryID:  deliveryID,
		EmailID:     in.ID,
		FromAddress: in.From,
		ToAddresses: append([]string{}, in.To...),
		Subject:     in.Subject,
		ForwardedTo: []string{},
		Status:      StatusFailed,
		ReceivedAt:  s.now().UTC(),
	}

	addresses, err := s.store.ActiveAddresses(ctx)
	if err != nil {
		s.logger.Errorf("転送先の取得に失敗: delivery_id=%s, error=%v", deliveryID, err)
		msg := err.Error()
		entry.ErrorDetails = &msg
		return entry, 0
	}
	if len(addresses) == 0 {
		s.logger.Warnf("有効な転送先がありません: delivery_id=%s", deliveryID)
		msg := "no hay direcciones de reenvío activas"
		entry.ErrorDetails = &msg
		return entry, 0
	}

	res := s.forwarder.Forward(ctx, in, addresses)
	entry.ForwardedTo = res.Delivered
	entry.ForwardedCount = len(res.Delivered)
	entry.Status = res.Status
	entry.ErrorDetails = res.Summary()

	if res.Status == StatusSuccess {
		s.logger.Infof("受信メールを転送しました: delivery_id=%s, forwarded=%d", deliveryID, entry.ForwardedCount)
	} else {
		s.logger.Errorf("受信メールの転送に失敗: delivery_id=%s, status=%s, forwarded=%d/%d, errors=%s",
			deliveryID, res.Status, entry.ForwardedCount, len(addresses), *res.Summary())
	}
	return entry, len(addresses)
}
