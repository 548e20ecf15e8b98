package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/cambiacromos/pkg/httpclient"
	"go.uber.org/zap"
)

// headerRequestID はリクエストIDを運ぶHTTPヘッダー。
const headerRequestID = "X-Request-ID"

// RequestID はリクエストIDを払い出すGinミドルウェアを返す。
// 受信したX-Request-IDがあればそれを使い、レスポンスヘッダーと
// リクエストのコンテキスト（外部API呼び出しに伝播される）に設定する。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(headerRequestID, id)
		c.Set("request_id", id)
		c.Request = c.Request.WithContext(httpclient.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// Logger はアクセスログを出力するGinミドルウェアを返す。
func Logger(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"request_id", c.GetString("request_id"),
		}
		if userID := GetUserID(c); userID != "" {
			fields = append(fields, "user_id", userID)
		}

		switch {
		case c.Writer.Status() >= 500:
			logger.Errorw("リクエスト処理でエラー", fields...)
		case len(c.Errors) > 0:
			logger.Warnw("リクエスト処理で警告", append(fields, "errors", c.Errors.String())...)
		default:
			logger.Infow("リクエスト", fields...)
		}
	}
}
