package mailer

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Config はメール中継サービスの設定。環境変数から読み込む。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT,default=8084"`
	// JWTSecret はバックエンドが発行するJWTの署名鍵。
	JWTSecret string `env:"JWT_SECRET"`
	// SupabaseURL はバックエンドのURL。
	SupabaseURL string `env:"SUPABASE_URL"`
	// SupabaseServiceKey は管理者判定に使うサービスロールキー。
	SupabaseServiceKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	// EmailAPIKey は送信APIのキー。
	EmailAPIKey string `env:"RESEND_API_KEY"`
	// EmailAPIURL は送信APIのベースURL。空の場合は既定のURLを使う。
	EmailAPIURL string `env:"RESEND_API_URL"`
	// From は送信元アドレス。
	From string `env:"EMAIL_FROM,default=CambiaCromos <no-reply@cambiacromos.com>"`
	// SiteURL は通知メールのリンク先のベースURL。
	SiteURL string `env:"SITE_URL,default=https://cambiacromos.com"`
	// AllowedOrigins はCORSで許可するオリジン（カンマ区切り）。
	AllowedOrigins string `env:"CORS_ALLOWED_ORIGINS,default=*"`
	// RateLimitPerMinute はユーザーごとの1分あたりの送信上限。
	RateLimitPerMinute int `env:"MAILER_RATE_LIMIT_PER_MINUTE,default=10"`
	// RateLimitBurst は連続で許可する送信数。
	RateLimitBurst int `env:"MAILER_RATE_LIMIT_BURST,default=5"`
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
		validation.Field(&c.SupabaseURL, validation.Required, is.URL),
		validation.Field(&c.SupabaseServiceKey, validation.Required),
		validation.Field(&c.EmailAPIKey, validation.Required),
		validation.Field(&c.EmailAPIURL, is.URL),
		validation.Field(&c.From, validation.Required),
		validation.Field(&c.SiteURL, validation.Required, is.URL),
		validation.Field(&c.RateLimitPerMinute, validation.Required, validation.Min(1)),
		validation.Field(&c.RateLimitBurst, validation.Required, validation.Min(1)),
	)
}
