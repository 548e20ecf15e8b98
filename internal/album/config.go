package album

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Config はアルバムサービスの設定。環境変数から読み込む。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT,default=8083"`
	// JWTSecret はバックエンドが発行するJWTの署名鍵。
	JWTSecret string `env:"JWT_SECRET"`
	// SupabaseURL はバックエンドのURL。
	SupabaseURL string `env:"SUPABASE_URL"`
	// SupabaseAnonKey は公開APIキー。ユーザーのトークンと組み合わせて行レベルセキュリティを適用する。
	SupabaseAnonKey string `env:"SUPABASE_ANON_KEY"`
	// SessionIdleTTL はセッションを破棄するまでの未使用時間。
	SessionIdleTTL time.Duration `env:"ALBUM_SESSION_IDLE_TTL,default=30m"`
	// RemoteTimeout はバックグラウンドで行うバックエンド呼び出しのタイムアウト。
	RemoteTimeout time.Duration `env:"ALBUM_REMOTE_TIMEOUT,default=15s"`
	// LogLevel はログレベル。
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Validate は設定値を検証する。
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, is.Port),
		validation.Field(&c.JWTSecret, validation.Required),
		validation.Field(&c.SupabaseURL, validation.Required, is.URL),
		validation.Field(&c.SupabaseAnonKey, validation.Required),
		validation.Field(&c.SessionIdleTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.RemoteTimeout, validation.Required, validation.Min(time.Second)),
	)
}
