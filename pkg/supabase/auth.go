package supabase

import (
	"context"
	"net/http"
)

// Auth は認証APIのクライアントを返す。
func (c *Client) Auth() *AuthClient {
	return &AuthClient{client: c}
}

// AuthClient は認証操作を扱う。
type AuthClient struct {
	client *Client
}

// User はバックエンドの認証ユーザー。
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// GetUser はアクセストークンの持ち主を取得する。トークンが無効な場合は401のAPIErrorになる。
func (a *AuthClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+accessToken)
	return Decode[*User](a.client.do(ctx, http.MethodGet, "/auth/v1/user", nil, h))
}
