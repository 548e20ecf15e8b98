// Package email はトランザクションメール送信API（Resend互換）のクライアントを提供する。
package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/nao1215/cambiacromos/pkg/httpclient"
)

// DefaultBaseURL は送信APIのデフォルトのベースURL。
const DefaultBaseURL = "https://api.resend.com"

// ErrNoRecipients は宛先が指定されていないことを表す。
var ErrNoRecipients = errors.New("宛先が指定されていません")

// Message は送信するメール。
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
	ReplyTo []string `json:"reply_to,omitempty"`
	// Tags は送信APIのタグ。集計用。
	Tags []Tag `json:"tags,omitempty"`
}

// Tag は送信APIのタグ。
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Sender はメールを送信する。サービスはこのインターフェースに依存する。
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Client は送信APIのクライアント。
type Client struct {
	http *httpclient.Client
}

// New は新しいクライアントを生成する。baseURLが空ならDefaultBaseURLを使う。
func New(apiKey, baseURL string, opts ...httpclient.Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http: httpclient.New(baseURL, append([]httpclient.Option{httpclient.WithBearerToken(apiKey)}, opts...)...),
	}
}

// Send はメールを送信し、送信APIが払い出したIDを返す。
// 429/5xxはリトライされるため、冪等キーを付けて重複送信を防ぐ。
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	if len(msg.To) == 0 {
		return "", ErrNoRecipients
	}

	h := make(http.Header)
	h.Set("Idempotency-Key", uuid.NewString())

	body, err := marshal(msg)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(ctx, http.MethodPost, "/emails", body, h)
	if err != nil {
		return "", fmt.Errorf("メール送信に失敗: %w", err)
	}
	if !resp.OK() {
		return "", fmt.Errorf("メール送信に失敗: %w", parseError(resp))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := unmarshal(resp.Body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}
