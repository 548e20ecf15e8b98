package mailer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nao1215/cambiacromos/pkg/supabase"
)

// Directory はユーザーの権限とメールアドレスを調べる。
type Directory interface {
	// IsAdmin はユーザーが管理者かどうかを返す。
	IsAdmin(ctx context.Context, userID string) (bool, error)
	// UserEmail はアクセストークンの持ち主のメールアドレスを返す。
	UserEmail(ctx context.Context, accessToken string) (string, error)
}

// SupabaseDirectory はサービスロールのクライアントでプロフィールと認証ユーザーを参照するDirectory。
type SupabaseDirectory struct {
	client *supabase.Client
}

// NewSupabaseDirectory は新しいSupabaseDirectoryを生成する。
func NewSupabaseDirectory(client *supabase.Client) *SupabaseDirectory {
	return &SupabaseDirectory{client: client}
}

// IsAdmin はprofiles.is_adminを参照する。プロフィールがない場合は管理者ではないものとして扱う。
func (d *SupabaseDirectory) IsAdmin(ctx context.Context, userID string) (bool, error) {
	row, err := supabase.Decode[struct {
		IsAdmin bool `json:"is_admin"`
	}](d.client.From("profiles").
		Select("is_admin").
		Eq("id", userID).
		Single().
		Execute(ctx))
	if supabase.IsStatus(err, http.StatusNotAcceptable) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("管理者権限の確認に失敗: %w", err)
	}
	return row.IsAdmin, nil
}

// UserEmail は認証APIからユーザーのメールアドレスを取得する。
func (d *SupabaseDirectory) UserEmail(ctx context.Context, accessToken string) (string, error) {
	user, err := d.client.Auth().GetUser(ctx, accessToken)
	if err != nil {
		return "", fmt.Errorf("ユーザー情報の取得に失敗: %w", err)
	}
	return user.Email, nil
}
