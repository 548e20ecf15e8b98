package inbound

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Config は受信メール中継サービスの設定。環境変数から読み込む。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT,default=8085"`
	// WebhookSecret はWebhookの署名鍵（whsec_で始まる）。
	WebhookSecret string `env:"RESEND_WEBHOOK_SECRET"`
	// SignatureTolerance は署名のタイムスタンプの許容誤差。
	SignatureTolerance time.Duration `env:"INBOUND_SIGNATURE_TOLERANCE,default=5m"`
	// SupabaseURL はバックエンドのURL。
	SupabaseURL string `env:"SUPABASE_URL"`
	// SupabaseServiceKey はサービスロールキー。
	SupabaseServiceKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	// ArchiveBucket は受信したペイロードを保存するバケット。空の場合は保存しない。
	ArchiveBucket string `env:"INBOUND_ARCHIVE_BUCKET,default=inbound-emails"`
	// EmailAPIKey は送信APIのキー。
	EmailAPIKey string `env:"RESEND_API_KEY"`
	// EmailAPIURL は送信APIのベースURL。空の場合は既定のURLを使う。
	EmailAPIURL string `env:"RESEND_API_URL"`
	// From は転送メールの送信元アドレス。
	From string `env:"EMAIL_FROM,default=CambiaCromos <no-reply@cambiacromos.com>"`
	// ForwardConcurrency は同時に行う転送の上限。
	ForwardConcurrency int `env:"INBOUND_FORWARD_CONCURRENCY,default=5"`
	// RedisAddr は重複判定に使うRedisのアドレス。空の場合はメモリで判定する。
	RedisAddr string `env:"REDIS_ADDR"`
	// RedisPassword はRedisのパスワード。
	RedisPassword string `env:"REDIS_PASSWORD"`
	// RedisDB はRedisのDB番号。
	RedisDB int `env:"REDIS_DB,default=0"`
	// DedupeTTL は配信IDを記憶しておく期間。
	DedupeTTL time.Duration `env:"INBOUND_DEDUPE_TTL,default=24h"`
	// RateLimitPerMinute は送信元IPごとの1分あたりの受信上限。
	RateLimitPerMinute int `env:"INBOUND_RATE_LIMIT_PER_MINUTE,default=300"`
	// LogLevel はログレベル。
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Validate は設定値を検証する。
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, is.Port),
		validation.Field(&c.WebhookSecret, validation.Required),
		validation.Field(&c.SignatureTolerance, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.SupabaseURL, validation.Required, is.URL),
		validation.Field(&c.SupabaseServiceKey, validation.Required),
		validation.Field(&c.EmailAPIKey, validation.Required),
		validation.Field(&c.EmailAPIURL, is.URL),
		validation.Field(&c.From, validation.Required),
		validation.Field(&c.ForwardConcurrency, validation.Required, validation.Min(1), validation.Max(50)),
		validation.Field(&c.RedisDB, validation.Min(0)),
		validation.Field(&c.DedupeTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.RateLimitPerMinute, validation.Required, validation.Min(1)),
	)
}
