package notification

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/robfig/cron/v3"
)

// Config は通知サービスの設定。環境変数から読み込む。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT,default=8086"`
	// DBPath はSQLiteデータベースのファイルパス。
	DBPath string `env:"NOTIFICATION_DB_PATH,default=/data/notification.db"`
	// JWTSecret はバックエンドが発行するJWTの署名鍵。
	JWTSecret string `env:"JWT_SECRET"`
	// SupabaseURL はバックエンドのURL。空の場合はRealtimeの購読を行わない。
	SupabaseURL string `env:"SUPABASE_URL"`
	// SupabaseServiceKey はRealtime接続に使うサービスロールキー。
	SupabaseServiceKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	// Retention は既読通知を保持する期間。
	Retention time.Duration `env:"NOTIFICATION_RETENTION,default=720h"`
	// PurgeSchedule は既読通知を削除するジョブのcron式。
	PurgeSchedule string `env:"NOTIFICATION_PURGE_SCHEDULE,default=@hourly"`
	// PageSize は一覧取得のデフォルト件数。
	PageSize int `env:"NOTIFICATION_PAGE_SIZE,default=50"`
	// LogLevel はログレベル。
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Validate は設定値を検証する。
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, is.Port),
		validation.Field(&c.DBPath, validation.Required),
		validation.Field(&c.JWTSecret, validation.Required),
		validation.Field(&c.SupabaseURL, is.URL),
		validation.Field(&c.SupabaseServiceKey, validation.When(c.SupabaseURL != "", validation.Required)),
		validation.Field(&c.Retention, validation.Required, validation.Min(time.Hour)),
		validation.Field(&c.PurgeSchedule, validation.Required, validation.By(validSchedule)),
		validation.Field(&c.PageSize, validation.Required, validation.Min(1), validation.Max(maxPageSize)),
	)
}

func validSchedule(value any) error {
	s, _ := value.(string)
	if _, err := cron.ParseStandard(s); err != nil {
		return fmt.Errorf("cron式が不正です: %w", err)
	}
	return nil
}

// RealtimeEnabled はRealtimeの購読が設定されているかどうかを返す。
func (c *Config) RealtimeEnabled() bool {
	return c.SupabaseURL != ""
}
