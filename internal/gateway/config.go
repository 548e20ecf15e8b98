package gateway

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Config はGatewayサービスの設定。環境変数から読み込む。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT,default=8080"`
	// JWTSecret はバックエンドが発行するJWTの署名鍵。
	JWTSecret string `env:"JWT_SECRET"`
	// AlbumURL はコレクション管理サービスのURL。
	AlbumURL string `env:"ALBUM_URL,default=http://localhost:8083"`
	// NotificationURL は通知サービスのURL。
	NotificationURL string `env:"NOTIFICATION_URL,default=http://localhost:8086"`
	// MailerURL はメール中継サービスのURL。
	MailerURL string `env:"MAILER_URL,default=http://localhost:8084"`
	// InboundURL は受信メール転送サービスのURL。
	InboundURL string `env:"INBOUND_URL,default=http://localhost:8085"`
	// AllowedOrigins はCORSで許可するオリジン（カンマ区切り）。
	AllowedOrigins string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:3000"`
	// RateLimitPerMinute はユーザーまたはIPごとの1分あたりのリクエスト上限。
	RateLimitPerMinute int `env:"GATEWAY_RATE_LIMIT_PER_MINUTE,default=600"`
	// RateLimitBurst は連続で許可するリクエスト数。
	RateLimitBurst int `env:"GATEWAY_RATE_LIMIT_BURST,default=60"`
	// LogLevel はログレベル。
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Origins はCORSで許可するオリジンの一覧を返す。
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Validate は設定値を検証する。
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, is.Port),
		validation.Field(&c.JWTSecret, validation.Required),
		validation.Field(&c.AlbumURL, validation.Required, is.URL),
		validation.Field(&c.NotificationURL, validation.Required, is.URL),
		validation.Field(&c.MailerURL, validation.Required, is.URL),
		validation.Field(&c.InboundURL, validation.Required, is.URL),
		validation.Field(&c.RateLimitPerMinute, validation.Required, validation.Min(1)),
		validation.Field(&c.RateLimitBurst, validation.Required, validation.Min(1)),
	)
}
