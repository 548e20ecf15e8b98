package supabase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// fakeRealtime はjoinを受け付けて指定のメッセージを送り返すテスト用サーバー。
func fakeRealtime(t *testing.T, joined chan<- string, messages ...string) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/v1/websocket" || r.URL.Query().Get("apikey") != "anon" {
			http.Error(w, "bad path", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		joined <- string(data)

		ref := gjson.GetBytes(data, "ref").String()
		reply := `{"topic":"realtime:notifications","event":"phx_reply","ref":"` + ref + `","payload":{"status":"ok","response":{}}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			return
		}
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// クライアントが切断するまで待つ
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestRealtime_DispatchesMatchingChanges(t *testing.T) {
	t.Parallel()

	insert := `{"topic":"realtime:notifications","event":"postgres_changes","ref":null,"payload":{"ids":[1],"data":{"schema":"public","table":"notifications","type":"INSERT","commit_timestamp":"2026-10-19T10:00:00Z","record":{"id":"n1","user_id":"u1"},"columns":[]}}}`
	update := `{"topic":"realtime:notifications","event":"postgres_changes","ref":null,"payload":{"ids":[2],"data":{"schema":"public","table":"notifications","type":"UPDATE","record":{"id":"n1"},"old_record":{"id":"n1"}}}}`
	other := `{"topic":"realtime:notifications","event":"postgres_changes","ref":null,"payload":{"ids":[3],"data":{"schema":"public","table":"listings","type":"INSERT","record":{"id":"l1"}}}}`

	joined := make(chan string, 1)
	ts := fakeRealtime(t, joined, other, update, insert)
	defer ts.Close()

	got := make(chan Change, 4)
	rt := NewRealtime(ts.URL, "anon", "notifications", WithHeartbeat(time.Hour), WithReconnectDelay(10*time.Millisecond)).
		On(PostgresChanges{Event: "INSERT", Table: "notifications"}, func(c Change) { got <- c })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	select {
	case join := <-joined:
		assert.Equal(t, "phx_join", gjson.Get(join, "event").String())
		assert.Equal(t, "realtime:notifications", gjson.Get(join, "topic").String())
		assert.Equal(t, "INSERT", gjson.Get(join, "payload.config.postgres_changes.0.event").String())
		assert.Equal(t, "public", gjson.Get(join, "payload.config.postgres_changes.0.schema").String())
		assert.Equal(t, "notifications", gjson.Get(join, "payload.config.postgres_changes.0.table").String())
		assert.Equal(t, "anon", gjson.Get(join, "payload.access_token").String())
	case <-time.After(2 * time.Second):
		t.Fatal("joinが送信されなかった")
	}

	select {
	case c := <-got:
		assert.Equal(t, "INSERT", c.Type)
		assert.Equal(t, "notifications", c.Table)
		assert.Equal(t, "2026-10-19T10:00:00Z", c.CommitTimestamp)
		assert.JSONEq(t, `{"id":"n1","user_id":"u1"}`, string(c.Record))
	case <-time.After(2 * time.Second):
		t.Fatal("INSERTが配信されなかった")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Runが終了しなかった")
	}
	assert.Empty(t, got, "条件に合わない変更は配信されないこと")
}

func TestRealtime_ReconnectsAfterJoinRejected(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	attempts := make(chan struct{}, 8)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		attempts <- struct{}{}
		ref := gjson.GetBytes(data, "ref").String()
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"topic":"realtime:x","event":"phx_reply","ref":"`+ref+`","payload":{"status":"error","response":{"reason":"unauthorized"}}}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer ts.Close()

	rt := NewRealtime(ts.URL, "anon", "x", WithReconnectDelay(5*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = rt.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-attempts:
		case <-ctx.Done():
			t.Fatal("再接続されなかった")
		}
	}
}

func TestNewRealtime_URL(t *testing.T) {
	t.Parallel()

	rt := NewRealtime("https://xyz.supabase.co/", "anon key", "feed")
	assert.True(t, strings.HasPrefix(rt.url, "wss://xyz.supabase.co/realtime/v1/websocket?"))
	assert.Contains(t, rt.url, "apikey=anon+key")
	assert.Contains(t, rt.url, "vsn=1.0.0")
	assert.Equal(t, "realtime:feed", rt.topic)
}
