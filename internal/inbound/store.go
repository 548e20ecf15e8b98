package inbound

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/cambiacromos/pkg/supabase"
)

// LogEntry は受信メールの処理結果。inbound_email_logsの1行に対応する。
type LogEntry struct {
	DeliveryID     string    `json:"svix_id"`
	EmailID        string    `json:"resend_email_id,omitempty"`
	FromAddress    string    `json:"from_address"`
	ToAddresses    []string  `json:"to_addresses"`
	Subject        string    `json:"subject"`
	ForwardedTo    []string  `json:"forwarded_to"`
	ForwardedCount int       `json:"forwarded_count"`
	Status         Status    `json:"status"`
	ErrorDetails   *string   `json:"error_details"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Store は転送先の取得と結果の記録を行う。
type Store interface {
	// ActiveAddresses は有効な転送先のメールアドレスを返す。
	ActiveAddresses(ctx context.Context) ([]string, error)
	// SaveLog は処理結果を記録する。
	SaveLog(ctx context.Context, entry LogEntry) error
	// Archive は受信したペイロードをそのまま保存する。
	Archive(ctx context.Context, deliveryID string, body []byte) error
}

// SupabaseStore はバックエンドのテーブルとストレージを使うStore。
type SupabaseStore struct {
	client *supabase.Client
	bucket string
}

// NewSupabaseStore は新しいSupabaseStoreを生成する。bucketが空の場合はペイロードを保存しない。
func NewSupabaseStore(client *supabase.Client, bucket string) *SupabaseStore {
	return &SupabaseStore{client: client, bucket: bucket}
}

// ActiveAddresses はemail_forwarding_addressesから有効な転送先を取得する。
func (s *SupabaseStore) ActiveAddresses(ctx context.Context) ([]string, error) {
	rows, err := supabase.Decode[[]struct {
		Email string `json:"email"`
	}](s.client.From("email_forwarding_addresses").
		Select("email").
		Eq("is_active", true).
		Order("email", true).
		Execute(ctx))
	if err != nil {
		return nil, fmt.Errorf("転送先の取得に失敗: %w", err)
	}

	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.Email != "" {
			out = append(out, r.Email)
		}
	}
	return out, nil
}

// SaveLog はinbound_email_logsに1行追加する。
func (s *SupabaseStore) SaveLog(ctx context.Context, entry LogEntry) error {
	if err := supabase.Check(s.client.From("inbound_email_logs").Insert(ctx, entry)); err != nil {
		return fmt.Errorf("受信ログの保存に失敗: %w", err)
	}
	return nil
}

// Archive はペイロードを<日付>/<配信ID>.jsonとして保存する。
func (s *SupabaseStore) Archive(ctx context.Context, deliveryID string, body []byte) error {
	if s.bucket == "" {
		return nil
	}
	path := time.Now().UTC().Format("2006-01-02") + "/" + deliveryID + ".json"
	if err := supabase.Check(s.client.Storage().From(s.bucket).Upload(ctx, path, body, "application/json", true)); err != nil {
		return fmt.Errorf("ペイロードの保存に失敗: %w", err)
	}
	return nil
}
