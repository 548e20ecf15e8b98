// Package supabase はマネージドバックエンド（PostgREST、RPC、ストレージ、認証、Realtime）の
// クライアントを提供する。サービスが実際に使う操作だけを実装する。
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nao1215/cambiacromos/pkg/httpclient"
)

// Client はバックエンドのREST APIクライアント。
// サービスロールキーまたはanonキーで生成し、エンドユーザーの権限で呼び出す場合は
// WithAccessTokenでユーザーのJWTを転送する。
type Client struct {
	http   *httpclient.Client
	apiKey string
}

// New は新しいクライアントを生成する。
func New(baseURL, apiKey string, opts ...httpclient.Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("SupabaseのURLが必要です")
	}
	if apiKey == "" {
		return nil, errors.New("SupabaseのAPIキーが必要です")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("SupabaseのURLが不正: %w", err)
	}

	base := []httpclient.Option{
		httpclient.WithHeader("apikey", apiKey),
		httpclient.WithBearerToken(apiKey),
		httpclient.WithHeader("Accept", "application/json"),
	}
	return &Client{
		http:   httpclient.New(baseURL, append(base, opts...)...),
		apiKey: apiKey,
	}, nil
}

// BaseURL は接続先のベースURLを返す。
func (c *Client) BaseURL() string {
	return c.http.BaseURL()
}

// APIKey は生成時のAPIキーを返す。Realtimeの接続に使う。
func (c *Client) APIKey() string {
	return c.apiKey
}

// WithOptions はHTTPクライアントの設定を変更したコピーを返す。
func (c *Client) WithOptions(opts ...httpclient.Option) *Client {
	return &Client{
		http:   c.http.Clone(opts...),
		apiKey: c.apiKey,
	}
}

// WithAccessToken はエンドユーザーのJWTで認可するコピーを返す。
// 行レベルセキュリティがユーザー単位で適用される。
func (c *Client) WithAccessToken(token string) *Client {
	return &Client{
		http:   c.http.Clone(httpclient.WithBearerToken(token)),
		apiKey: c.apiKey,
	}
}

// RPC はストアドプロシージャを呼び出す。
func (c *Client) RPC(ctx context.Context, fn string, params any) (*Response, error) {
	var body []byte
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("RPCパラメータのシリアライズに失敗: %w", err)
		}
		body = b
	} else {
		body = []byte("{}")
	}
	return c.do(ctx, http.MethodPost, "/rest/v1/rpc/"+url.PathEscape(fn), body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, header http.Header) (*Response, error) {
	resp, err := c.http.Do(ctx, method, path, body, header)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

// Response はバックエンドからのレスポンス。
type Response struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Header はレスポンスヘッダー。
	Header http.Header
	// Body はレスポンスボディ。
	Body []byte
}

// JSON はレスポンスボディをvにデシリアライズする。
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("レスポンスのデシリアライズに失敗: %w", err)
	}
	return nil
}

// Error はステータスが400以上の場合に*APIErrorを返す。
func (r *Response) Error() error {
	if r.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: r.StatusCode}
	var body struct {
		Message          string `json:"message"`
		Msg              string `json:"msg"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Code             any    `json:"code"`
		Details          string `json:"details"`
		Hint             string `json:"hint"`
	}
	if err := json.Unmarshal(r.Body, &body); err == nil {
		for _, m := range []string{body.Message, body.Msg, body.ErrorDescription, body.Error} {
			if m != "" {
				apiErr.Message = m
				break
			}
		}
		if body.Code != nil {
			apiErr.Code = strings.Trim(fmt.Sprint(body.Code), `"`)
		}
		apiErr.Details = body.Details
		apiErr.Hint = body.Hint
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(r.StatusCode)
	}
	return apiErr
}

// APIError はバックエンドが返したエラー。
type APIError struct {
	// Status はHTTPステータスコード。
	Status int
	// Code はPostgRESTまたはPostgresのエラーコード（例: "PGRST116", "23505"）。
	Code string
	// Message はエラーメッセージ。
	Message string
	// Details は詳細。
	Details string
	// Hint は対処のヒント。
	Hint string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase: status=%d, code=%s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase: status=%d: %s", e.Status, e.Message)
}

// IsStatus はerrが指定ステータスの*APIErrorかどうかを返す。
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Decode はレスポンスを検査してT型にデシリアライズする。
// 呼び出し結果をそのまま渡せるように(resp, err)を受け取る。
func Decode[T any](resp *Response, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if err := resp.Error(); err != nil {
		return out, err
	}
	if len(resp.Body) == 0 {
		return out, nil
	}
	if err := resp.JSON(&out); err != nil {
		return out, err
	}
	return out, nil
}

// Check はレスポンスのエラーだけを検査する。
func Check(resp *Response, err error) error {
	if err != nil {
		return err
	}
	return resp.Error()
}
