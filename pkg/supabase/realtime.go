package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PostgresChanges はpostgres_changesの購読条件。
type PostgresChanges struct {
	// Event はINSERT、UPDATE、DELETE、または"*"。
	Event string `json:"event"`
	// Schema はスキーマ名。空なら"public"。
	Schema string `json:"schema"`
	// Table はテーブル名。
	Table string `json:"table"`
	// Filter は"user_id=eq.123"のような任意の絞り込み条件。
	Filter string `json:"filter,omitempty"`
}

func (p PostgresChanges) matches(c Change) bool {
	return p.Schema == c.Schema && p.Table == c.Table && (p.Event == "*" || p.Event == c.Type)
}

// Change はpostgres_changesで受信した行の変更。
type Change struct {
	// Type はINSERT、UPDATE、DELETEのいずれか。
	Type string
	// Schema はスキーマ名。
	Schema string
	// Table はテーブル名。
	Table string
	// CommitTimestamp はコミット時刻（RFC3339形式の文字列）。
	CommitTimestamp string
	// Record は変更後の行（DELETEでは空）。
	Record json.RawMessage
	// OldRecord は変更前の行（主キーのみの場合がある）。
	OldRecord json.RawMessage
}

// ChangeHandler は変更を受け取る関数。受信順に同期的に呼ばれる。
type ChangeHandler func(Change)

type binding struct {
	filter  PostgresChanges
	handler ChangeHandler
}

// Realtime はバックエンドのRealtime（Phoenixチャネル）クライアント。
// 1つのチャネルに登録済みの購読条件をまとめてjoinし、切断時は再接続する。
type Realtime struct {
	url            string
	topic          string
	accessToken    string
	heartbeat      time.Duration
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	logger         *zap.SugaredLogger

	mu       sync.Mutex
	bindings []binding
	ref      int
}

// RealtimeOption はRealtimeの設定を変更する。
type RealtimeOption func(*Realtime)

// WithHeartbeat はハートビート間隔を設定する。
func WithHeartbeat(d time.Duration) RealtimeOption {
	return func(r *Realtime) { r.heartbeat = d }
}

// WithReconnectDelay は再接続までの待ち時間を設定する。
func WithReconnectDelay(d time.Duration) RealtimeOption {
	return func(r *Realtime) { r.reconnectDelay = d }
}

// WithRealtimeLogger はロガーを設定する。
func WithRealtimeLogger(l *zap.SugaredLogger) RealtimeOption {
	return func(r *Realtime) { r.logger = l }
}

// WithChannelAccessToken はjoin時に送るアクセストークンを設定する。
func WithChannelAccessToken(token string) RealtimeOption {
	return func(r *Realtime) { r.accessToken = token }
}

// Realtime はchannelという名前のチャネルに接続するRealtimeクライアントを返す。
func (c *Client) Realtime(channel string, opts ...RealtimeOption) *Realtime {
	return NewRealtime(c.BaseURL(), c.APIKey(), channel, opts...)
}

// NewRealtime は新しいRealtimeクライアントを生成する。
func NewRealtime(baseURL, apiKey, channel string, opts ...RealtimeOption) *Realtime {
	wsURL := baseURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	q := url.Values{}
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")

	r := &Realtime{
		url:            strings.TrimSuffix(wsURL, "/") + "/realtime/v1/websocket?" + q.Encode(),
		topic:          "realtime:" + channel,
		accessToken:    apiKey,
		heartbeat:      30 * time.Second,
		reconnectDelay: 5 * time.Second,
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:         zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// On は購読条件とハンドラを登録する。Runより前に呼ぶこと。
func (r *Realtime) On(filter PostgresChanges, handler ChangeHandler) *Realtime {
	if filter.Schema == "" {
		filter.Schema = "public"
	}
	if filter.Event == "" {
		filter.Event = "*"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = append(r.bindings, binding{filter: filter, handler: handler})
	return r
}

// Run はctxがキャンセルされるまで接続を維持する。切断された場合は待ち時間をおいて再接続する。
func (r *Realtime) Run(ctx context.Context) error {
	for {
		err := r.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Warnf("Realtime接続が切断されました。再接続します: %v", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.reconnectDelay):
		}
	}
}

// message はPhoenixプロトコルのメッセージ。
type message struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Ref     string `json:"ref"`
	JoinRef string `json:"join_ref,omitempty"`
}

// session は1回分の接続を処理する。読み込みとハートビートのどちらかが終了すると両方を止める。
func (r *Realtime) session(ctx context.Context) error {
	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket接続に失敗: %w", err)
	}
	defer conn.Close()

	r.mu.Lock()
	changes := make([]PostgresChanges, len(r.bindings))
	for i, b := range r.bindings {
		changes[i] = b.filter
	}
	joinRef := r.nextRefLocked()
	r.mu.Unlock()

	join := message{
		Topic: r.topic,
		Event: "phx_join",
		Payload: map[string]any{
			"config": map[string]any{
				"broadcast":        map[string]any{"self": false},
				"presence":         map[string]any{"key": ""},
				"postgres_changes": changes,
			},
			"access_token": r.accessToken,
		},
		Ref:     joinRef,
		JoinRef: joinRef,
	}
	if err := conn.WriteJSON(join); err != nil {
		return fmt.Errorf("joinの送信に失敗: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.readLoop(conn, joinRef)
	})
	g.Go(func() error {
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				// 読み込み側のReadMessageを解除する
				conn.Close()
				return gctx.Err()
			case <-ticker.C:
				r.mu.Lock()
				ref := r.nextRefLocked()
				r.mu.Unlock()
				hb := message{Topic: "phoenix", Event: "heartbeat", Payload: map[string]any{}, Ref: ref}
				if err := conn.WriteJSON(hb); err != nil {
					return fmt.Errorf("ハートビートの送信に失敗: %w", err)
				}
			}
		}
	})
	return g.Wait()
}

func (r *Realtime) readLoop(conn *websocket.Conn, joinRef string) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("メッセージの受信に失敗: %w", err)
		}

		msg := gjson.ParseBytes(data)
		switch msg.Get("event").String() {
		case "phx_reply":
			if msg.Get("ref").String() == joinRef {
				if status := msg.Get("payload.status").String(); status != "ok" {
					return fmt.Errorf("チャネルへのjoinが拒否されました: %s", msg.Get("payload.response").Raw)
				}
				r.logger.Infof("Realtimeチャネルに参加しました: topic=%s", r.topic)
			}
		case "phx_error", "phx_close":
			if msg.Get("topic").String() == r.topic {
				return fmt.Errorf("チャネルが閉じられました: event=%s", msg.Get("event").String())
			}
		case "system":
			if msg.Get("payload.status").String() == "error" {
				r.logger.Warnf("Realtimeのシステムエラー: %s", msg.Get("payload.message").String())
			}
		case "postgres_changes":
			r.dispatch(msg.Get("payload.data"))
		}
	}
}

func (r *Realtime) dispatch(data gjson.Result) {
	c := Change{
		Type:            data.Get("type").String(),
		Schema:          data.Get("schema").String(),
		Table:           data.Get("table").String(),
		CommitTimestamp: data.Get("commit_timestamp").String(),
	}
	if c.Type == "" {
		c.Type = data.Get("eventType").String()
	}
	if rec := data.Get("record"); rec.Exists() {
		c.Record = json.RawMessage(rec.Raw)
	} else if rec := data.Get("new"); rec.Exists() {
		c.Record = json.RawMessage(rec.Raw)
	}
	if old := data.Get("old_record"); old.Exists() {
		c.OldRecord = json.RawMessage(old.Raw)
	} else if old := data.Get("old"); old.Exists() {
		c.OldRecord = json.RawMessage(old.Raw)
	}

	r.mu.Lock()
	bindings := make([]binding, len(r.bindings))
	copy(bindings, r.bindings)
	r.mu.Unlock()

	for _, b := range bindings {
		if b.filter.matches(c) {
			b.handler(c)
		}
	}
}

func (r *Realtime) nextRefLocked() string {
	r.ref++
	return strconv.Itoa(r.ref)
}
