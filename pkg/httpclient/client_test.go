package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// testPayload はテスト用のリクエスト/レスポンスペイロード。
type testPayload struct {
	// Name はテスト用の名前フィールド。
	Name string `json:"name"`
	// Value はテスト用の値フィールド。
	Value int `json:"value"`
}

// fastRetry はテスト用の短いリトライ設定。
var fastRetry = RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

// TestNew はNew関数でクライアントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("末尾のスラッシュが取り除かれること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080/")
		if client.BaseURL() != "http://localhost:8080" {
			t.Errorf("BaseURL() = %q, want %q", client.BaseURL(), "http://localhost:8080")
		}
	})

	t.Run("タイムアウトが30秒に設定されていること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080")
		if client.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want 30s", client.httpClient.Timeout)
		}
	})

	t.Run("WithTimeoutが共有のhttp.Clientを書き換えないこと", func(t *testing.T) {
		t.Parallel()

		shared := &http.Client{Timeout: time.Minute}
		client := New("http://localhost", WithHTTPClient(shared), WithTimeout(time.Second))
		if client.httpClient.Timeout != time.Second {
			t.Errorf("Timeout = %v, want 1s", client.httpClient.Timeout)
		}
		if shared.Timeout != time.Minute {
			t.Errorf("共有クライアントのTimeoutが変更された: %v", shared.Timeout)
		}
	})
}

// TestPostJSON はPostJSON関数を検証する。
func TestPostJSON(t *testing.T) {
	t.Parallel()

	t.Run("正常にPOSTリクエストを送信してレスポンスを取得できること", func(t *testing.T) {
		t.Parallel()

		var (
			method, path, contentType, auth string
			sent                            testPayload
		)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method = r.Method
			path = r.URL.Path
			contentType = r.Header.Get("Content-Type")
			auth = r.Header.Get("Authorization")
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &sent)

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(testPayload{Name: "response", Value: 200})
		}))
		defer ts.Close()

		client := New(ts.URL, WithBearerToken("secret"))
		var result testPayload
		if err := client.PostJSON(context.Background(), "/emails", testPayload{Name: "request", Value: 100}, &result); err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}

		if method != http.MethodPost {
			t.Errorf("Method = %q, want %q", method, http.MethodPost)
		}
		if path != "/emails" {
			t.Errorf("Path = %q, want %q", path, "/emails")
		}
		if contentType != "application/json" {
			t.Errorf("Content-Type = %q, want %q", contentType, "application/json")
		}
		if auth != "Bearer secret" {
			t.Errorf("Authorization = %q, want %q", auth, "Bearer secret")
		}
		if sent.Name != "request" || sent.Value != 100 {
			t.Errorf("sent = %+v", sent)
		}
		if result.Name != "response" || result.Value != 200 {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("400エラーはリトライせずStatusErrorになること", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"bad request"}`))
		}))
		defer ts.Close()

		client := New(ts.URL, WithRetry(fastRetry))
		err := client.PostJSON(context.Background(), "/emails", testPayload{}, nil)

		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("StatusErrorが返されるべき: %v", err)
		}
		if se.StatusCode != http.StatusBadRequest {
			t.Errorf("StatusCode = %d, want %d", se.StatusCode, http.StatusBadRequest)
		}
		if calls.Load() != 1 {
			t.Errorf("呼び出し回数 = %d, want 1", calls.Load())
		}
	})

	t.Run("resultがnilの場合でもエラーにならないこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"status":"created"}`))
		}))
		defer ts.Close()

		if err := New(ts.URL).PostJSON(context.Background(), "/x", testPayload{}, nil); err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}
	})

	t.Run("キャンセルされたコンテキストでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(testPayload{Name: "response", Value: 1})
		}))
		defer ts.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := New(ts.URL).PostJSON(ctx, "/x", testPayload{}, nil); err == nil {
			t.Fatal("PostJSON()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestGetJSON はGetJSON関数を検証する。
func TestGetJSON(t *testing.T) {
	t.Parallel()

	t.Run("不正なJSONレスポンスでエラーになること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{broken`))
		}))
		defer ts.Close()

		var result testPayload
		if err := New(ts.URL).GetJSON(context.Background(), "/x", &result); err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("リクエストIDがヘッダーで伝播されること", func(t *testing.T) {
		t.Parallel()

		var got string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Get("X-Request-ID")
			w.Write([]byte(`{}`))
		}))
		defer ts.Close()

		ctx := WithRequestID(context.Background(), "req-123")
		if err := New(ts.URL).GetJSON(ctx, "/x", nil); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if got != "req-123" {
			t.Errorf("X-Request-ID = %q, want %q", got, "req-123")
		}
	})
}

// TestDo_Retry はリトライの挙動を検証する。
func TestDo_Retry(t *testing.T) {
	t.Parallel()

	t.Run("503の後に成功した場合は成功レスポンスを返すこと", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"a":1}` {
				t.Errorf("リトライ時にボディが失われた: %q", body)
			}
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`ok`))
		}))
		defer ts.Close()

		resp, err := New(ts.URL, WithRetry(fastRetry)).Do(context.Background(), http.MethodPost, "/x", []byte(`{"a":1}`), nil)
		if err != nil {
			t.Fatalf("Do()でエラーが発生: %v", err)
		}
		if !resp.OK() || string(resp.Body) != "ok" {
			t.Errorf("resp = %d %q", resp.StatusCode, resp.Body)
		}
		if calls.Load() != 3 {
			t.Errorf("呼び出し回数 = %d, want 3", calls.Load())
		}
	})

	t.Run("リトライを使い切った場合は最後のレスポンスを返すこと", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer ts.Close()

		resp, err := New(ts.URL, WithRetry(fastRetry)).Do(context.Background(), http.MethodGet, "/x", nil, nil)
		if err != nil {
			t.Fatalf("Do()でエラーが発生: %v", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			t.Errorf("StatusCode = %d, want 429", resp.StatusCode)
		}
		if calls.Load() != int32(fastRetry.MaxRetries+1) {
			t.Errorf("呼び出し回数 = %d, want %d", calls.Load(), fastRetry.MaxRetries+1)
		}
	})

	t.Run("接続できない場合はエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		url := ts.URL
		ts.Close()

		if _, err := New(url, WithRetry(fastRetry)).Do(context.Background(), http.MethodGet, "/x", nil, nil); err == nil {
			t.Fatal("Do()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestClone はCloneが元のクライアントに影響しないことを検証する。
func TestClone(t *testing.T) {
	t.Parallel()

	base := New("http://localhost", WithHeader("apikey", "anon"))
	user := base.Clone(WithBearerToken("user-jwt"))

	if base.header.Get("Authorization") != "" {
		t.Errorf("元のクライアントにAuthorizationが設定された: %q", base.header.Get("Authorization"))
	}
	if user.header.Get("apikey") != "anon" {
		t.Errorf("apikeyが引き継がれていない: %q", user.header.Get("apikey"))
	}
	if user.header.Get("Authorization") != "Bearer user-jwt" {
		t.Errorf("Authorization = %q", user.header.Get("Authorization"))
	}
}

// TestRetryPolicy_Backoff は待ち時間の上限を検証する。
func TestRetryPolicy_Backoff(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxRetries: 10, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.backoff(attempt)
		if d <= 0 || d > 1100*time.Millisecond {
			t.Errorf("backoff(%d) = %v", attempt, d)
		}
	}
}
