package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/nao1215/cambiacromos/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "gateway-test-secret"

// echoed は転送先のモックが受け取ったリクエストの内容。
type echoed struct {
	Service   string `json:"service"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Query     string `json:"query"`
	UserID    string `json:"user_id"`
	Auth      string `json:"auth"`
	RequestID string `json:"request_id"`
}

// newBackend は受け取ったリクエストをJSONで返すモックサービスを起動する。
func newBackend(t *testing.T, service string) *httptest.Server {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(echoed{
			Service:   service,
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			UserID:    r.Header.Get(headerUserID),
			Auth:      r.Header.Get("Authorization"),
			RequestID: r.Header.Get("X-Request-ID"),
		})
	}))
	t.Cleanup(backend.Close)
	return backend
}

// testGateway は実際のHTTPサーバーとして起動したGateway。
type testGateway struct {
	*Server
	url string
}

// setupTestServer は4つのモックサービスを転送先にしたGatewayを起動する。
// リバースプロキシはhttp.CloseNotifierを要求するため、レコーダーではなく実サーバーで動かす。
func setupTestServer(t *testing.T, modify ...func(*Config)) *testGateway {
	t.Helper()

	cfg := Config{
		Port:               "0",
		JWTSecret:          testSecret,
		AlbumURL:           newBackend(t, upstreamAlbum).URL,
		NotificationURL:    newBackend(t, upstreamNotification).URL,
		MailerURL:          newBackend(t, upstreamMailer).URL,
		InboundURL:         newBackend(t, upstreamInbound).URL,
		AllowedOrigins:     "https://cambiacromos.com",
		RateLimitPerMinute: 600,
		RateLimitBurst:     100,
	}
	for _, m := range modify {
		m(&cfg)
	}

	s, err := NewServer(cfg, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Gatewayの生成に失敗: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &testGateway{Server: s, url: ts.URL}
}

// tokenFor はユーザー用のJWTを発行する。
func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := middleware.GenerateJWT(testSecret, userID, userID+"@example.com", middleware.RoleAuthenticated)
	if err != nil {
		t.Fatalf("JWTの発行に失敗: %v", err)
	}
	return token
}

// response はテストで確認するレスポンスの内容。
type response struct {
	Code   int
	Header http.Header
	Body   string
}

// noRedirect はリダイレクトを追わないクライアント。
var noRedirect = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

func doRequest(t *testing.T, s *testGateway, method, path, token string, header map[string]string) response {
	t.Helper()
	req, err := http.NewRequest(method, s.url+path, strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("リクエストの生成に失敗: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		t.Fatalf("%s %s: リクエストに失敗: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("%s %s: レスポンスの読み込みに失敗: %v", method, path, err)
	}
	return response{Code: resp.StatusCode, Header: resp.Header, Body: string(body)}
}

func parseEcho(t *testing.T, w response) echoed {
	t.Helper()
	var got echoed
	if err := json.Unmarshal([]byte(w.Body), &got); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v, body=%s", err, w.Body)
	}
	return got
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	w := doRequest(t, s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body, `"service":"gateway"`) {
		t.Errorf("サービス名が含まれていない: %s", w.Body)
	}
}

func TestNewServer(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Config{
		JWTSecret:          testSecret,
		AlbumURL:           "no-es-una-url",
		NotificationURL:    "http://localhost:8086",
		MailerURL:          "http://localhost:8084",
		InboundURL:         "http://localhost:8085",
		RateLimitPerMinute: 1,
		RateLimitBurst:     1,
	}, zap.NewNop().Sugar())
	if err == nil {
		t.Fatal("不正な転送先URLでエラーにならなかった")
	}
}

func TestProxy(t *testing.T) {
	t.Parallel()

	t.Run("認証済みリクエストを転送先にそのまま渡すこと", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		token := tokenFor(t, "user-1")
		tests := []struct {
			method  string
			path    string
			service string
		}{
			{http.MethodGet, "/api/v1/me", upstreamAlbum},
			{http.MethodPut, "/api/v1/me/collections/c-1/slots/s-9?wait=true", upstreamAlbum},
			{http.MethodPost, "/api/v1/me/listings/l-1/restore", upstreamAlbum},
			{http.MethodGet, "/api/v1/notifications/unread/count", upstreamNotification},
			{http.MethodPut, "/api/v1/notifications/n-1/read", upstreamNotification},
			{http.MethodPost, "/functions/v1/send-email-notification", upstreamMailer},
		}
		for _, tt := range tests {
			w := doRequest(t, s, tt.method, tt.path, token, nil)
			if w.Code != http.StatusAccepted {
				t.Fatalf("%s %s: ステータスコード got %d, body=%s", tt.method, tt.path, w.Code, w.Body)
			}
			got := parseEcho(t, w)
			path, query, _ := strings.Cut(tt.path, "?")
			if got.Service != tt.service || got.Method != tt.method || got.Path != path || got.Query != query {
				t.Errorf("%s %s: 転送内容が一致しない: %+v", tt.method, tt.path, got)
			}
			if got.UserID != "user-1" {
				t.Errorf("X-User-ID: got %q, want %q", got.UserID, "user-1")
			}
			if got.Auth != "Bearer "+token {
				t.Errorf("Authorizationヘッダーが転送されていない: %q", got.Auth)
			}
			if got.RequestID == "" {
				t.Error("X-Request-IDが転送されていない")
			}
		}
	})

	t.Run("トークンがない場合は転送せず401を返すこと", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		for _, path := range []string{"/api/v1/me", "/api/v1/notifications"} {
			w := doRequest(t, s, http.MethodGet, path, "", nil)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("%s: ステータスコード got %d, want %d", path, w.Code, http.StatusUnauthorized)
			}
		}
		w := doRequest(t, s, http.MethodPost, "/functions/v1/send-corporate-email", "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("send-corporate-email: ステータスコード got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("内部向けの通知送信は公開しないこと", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		w := doRequest(t, s, http.MethodPost, "/api/v1/internal/send", tokenFor(t, "user-1"), nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("受信メールのwebhookはJWTなしで転送しX-User-IDを捨てること", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		w := doRequest(t, s, http.MethodPost, "/functions/v1/receive-inbound-email", "", map[string]string{
			headerUserID: "suplantado",
			"svix-id":    "msg_1",
		})
		if w.Code != http.StatusAccepted {
			t.Fatalf("ステータスコード: got %d, body=%s", w.Code, w.Body)
		}
		got := parseEcho(t, w)
		if got.Service != upstreamInbound {
			t.Errorf("転送先: got %q, want %q", got.Service, upstreamInbound)
		}
		if got.UserID != "" {
			t.Errorf("クライアントのX-User-IDが転送された: %q", got.UserID)
		}
	})

	t.Run("プリフライトには転送せず204を返すこと", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		w := doRequest(t, s, http.MethodOptions, "/functions/v1/send-corporate-email", "", map[string]string{
			"Origin": "https://cambiacromos.com",
		})
		if w.Code != http.StatusNoContent {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusNoContent)
		}
		if got := w.Header.Get("Access-Control-Allow-Origin"); got != "https://cambiacromos.com" {
			t.Errorf("Access-Control-Allow-Origin: got %q", got)
		}
	})

	t.Run("転送先に接続できない場合は502を返しメトリクスに記録すること", func(t *testing.T) {
		t.Parallel()

		down := httptest.NewServer(http.NotFoundHandler())
		down.Close()
		s := setupTestServer(t, func(c *Config) { c.NotificationURL = down.URL })

		w := doRequest(t, s, http.MethodGet, "/api/v1/notifications", tokenFor(t, "user-1"), nil)
		if w.Code != http.StatusBadGateway {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusBadGateway)
		}
		if !strings.Contains(w.Body, "error") {
			t.Errorf("エラーメッセージが含まれていない: %s", w.Body)
		}
		if got := testutil.ToFloat64(s.upstreamErrors.WithLabelValues(upstreamNotification)); got != 1 {
			t.Errorf("upstream_errors_total: got %v, want 1", got)
		}
	})

	t.Run("上限を超えたユーザーには429を返すこと", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t, func(c *Config) {
			c.RateLimitPerMinute = 1
			c.RateLimitBurst = 2
		})
		token := tokenFor(t, "user-1")
		for i := range 2 {
			if w := doRequest(t, s, http.MethodGet, "/api/v1/me", token, nil); w.Code != http.StatusAccepted {
				t.Fatalf("%d回目: ステータスコード got %d", i+1, w.Code)
			}
		}
		w := doRequest(t, s, http.MethodGet, "/api/v1/me", token, nil)
		if w.Code != http.StatusTooManyRequests {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusTooManyRequests)
		}
		if w := doRequest(t, s, http.MethodGet, "/api/v1/me", tokenFor(t, "user-2"), nil); w.Code != http.StatusAccepted {
			t.Errorf("別ユーザーが制限された: got %d", w.Code)
		}
	})
}
