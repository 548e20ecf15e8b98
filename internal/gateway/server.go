package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nao1215/cambiacromos/pkg/middleware"
	"github.com/nao1215/cambiacromos/pkg/server"
)

// headerUserID は検証済みのユーザーIDを内部サービスに渡すヘッダー。
const headerUserID = "X-User-ID"

// 転送先の名前。メトリクスのラベルに使う。
const (
	upstreamAlbum        = "album"
	upstreamNotification = "notification"
	upstreamMailer       = "mailer"
	upstreamInbound      = "inbound"
)

// Server はGatewayサービスのHTTPサーバー。
type Server struct {
	router  *gin.Engine
	cfg     Config
	logger  *zap.SugaredLogger
	metrics *middleware.Metrics
	// proxies は転送先ごとのリバースプロキシ。
	proxies map[string]*httputil.ReverseProxy
	// upstreamErrors は転送先に接続できなかった回数。
	upstreamErrors *prometheus.CounterVec
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg Config, logger *zap.SugaredLogger) (*Server, error) {
	metrics := middleware.NewMetrics("gateway")
	upstreamErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cambiacromos",
		Subsystem: "gateway",
		Name:      "upstream_errors_total",
		Help:      "転送先のサービスに接続できなかったリクエスト数",
	}, []string{"upstream"})
	metrics.Registry.MustRegister(upstreamErrors)

	s := &Server{
		cfg:            cfg,
		logger:         logger,
		metrics:        metrics,
		proxies:        make(map[string]*httputil.ReverseProxy),
		upstreamErrors: upstreamErrors,
	}

	targets := map[string]string{
		upstreamAlbum:        cfg.AlbumURL,
		upstreamNotification: cfg.NotificationURL,
		upstreamMailer:       cfg.MailerURL,
		upstreamInbound:      cfg.InboundURL,
	}
	for name, raw := range targets {
		target, err := url.Parse(raw)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("転送先のURLが不正です: %s=%q", name, raw)
		}
		s.proxies[name] = s.newProxy(name, target)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(metrics.Middleware())
	router.Use(middleware.CORS(cfg.Origins()))
	s.router = router
	s.setupRoutes()

	return s, nil
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxが終了するまで動かす。
func (s *Server) Run(ctx context.Context) error {
	return server.Run(ctx, ":"+s.cfg.Port, s.router, s.logger)
}

// setupRoutes は公開するルートを設定する。ここにないルートは内部サービスにも届かない。
func (s *Server) setupRoutes() {
	limiter := middleware.NewRateLimiter(s.cfg.RateLimitPerMinute, s.cfg.RateLimitBurst)

	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.cfg.JWTSecret))
	api.Use(middleware.RateLimit(limiter))
	{
		album := s.proxy(upstreamAlbum)
		me := api.Group("/me")
		{
			me.GET("", album)
			me.POST("/refresh", album)
			me.GET("/events", album)
			me.PUT("/nickname", album)
			me.PUT("/postcode", album)
			me.POST("/collections", album)
			me.DELETE("/collections/:id", album)
			me.PUT("/collections/:id/activate", album)
			me.PUT("/collections/:id/slots/:slot_id", album)
			me.DELETE("/collections/:id/slots/:slot_id", album)
			me.DELETE("/listings/:id", album)
			me.POST("/listings/:id/restore", album)
		}

		// 通知の送信（/internal/send）は内部サービス専用のため公開しない
		notification := s.proxy(upstreamNotification)
		notifications := api.Group("/notifications")
		{
			notifications.GET("", notification)
			notifications.GET("/unread", notification)
			notifications.GET("/unread/count", notification)
			notifications.PUT("/:id/read", notification)
			notifications.PUT("/read-all", notification)
			notifications.GET("/stream", notification)
		}
	}

	fn := s.router.Group("/functions/v1")
	fn.Use(middleware.RateLimit(limiter))
	{
		mailer := s.proxy(upstreamMailer)
		fn.POST("/send-corporate-email", middleware.JWTAuth(s.cfg.JWTSecret), mailer)
		fn.POST("/send-email-notification", middleware.JWTAuth(s.cfg.JWTSecret), mailer)

		// 署名はinboundサービスが検証する
		fn.POST("/receive-inbound-email", s.proxy(upstreamInbound))
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
	s.router.GET("/metrics", s.metrics.Handler())
}

// proxy は指定した転送先にリクエストをそのまま渡すハンドラを返す。
// クライアントが送ったX-User-IDは捨て、JWTで検証したユーザーIDだけを付ける。
func (s *Server) proxy(name string) gin.HandlerFunc {
	rp := s.proxies[name]
	return func(c *gin.Context) {
		c.Request.Header.Del(headerUserID)
		if userID := middleware.GetUserID(c); userID != "" {
			c.Request.Header.Set(headerUserID, userID)
		}
		if id := c.GetString("request_id"); id != "" {
			c.Request.Header.Set("X-Request-ID", id)
		}
		rp.ServeHTTP(c.Writer, c.Request)
	}
}

// newProxy は転送先ごとのリバースプロキシを生成する。
// パスとクエリは受信したものをそのまま使う。
func (s *Server) newProxy(name string, target *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.Out.URL.Path = r.In.URL.Path
			r.Out.URL.RawPath = r.In.URL.RawPath
			r.Out.URL.RawQuery = r.In.URL.RawQuery
			r.SetXForwarded()
		},
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.upstreamErrors.WithLabelValues(name).Inc()
			s.logger.Errorf("転送に失敗: upstream=%s, path=%s, error=%v", name, r.URL.Path, err)
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"El servicio no está disponible en este momento"}`))
		},
	}
}
