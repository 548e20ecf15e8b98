package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/nao1215/cambiacromos/pkg/email"
	"github.com/nao1215/cambiacromos/pkg/event"
	"github.com/nao1215/cambiacromos/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "mailer-test-secret"

var errSend = errors.New("send failed")

// fakeSender は送信したメールを記録するemail.Sender。
type fakeSender struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg email.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "email-1", nil
}

func (f *fakeSender) messages() []email.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]email.Message(nil), f.sent...)
}

// fakeDirectory は固定の管理者とメールアドレスを返すDirectory。
type fakeDirectory struct {
	admins map[string]bool
	email  string
	err    error
}

func (f *fakeDirectory) IsAdmin(_ context.Context, userID string) (bool, error) {
	return f.admins[userID], f.err
}

func (f *fakeDirectory) UserEmail(context.Context, string) (string, error) {
	return f.email, f.err
}

func setupTestServer(t *testing.T) (*Server, *fakeSender, *fakeDirectory) {
	t.Helper()

	sender := &fakeSender{}
	dir := &fakeDirectory{admins: map[string]bool{"admin-1": true}, email: "perfil@example.com"}
	s := NewServer(Config{
		Port:               "0",
		JWTSecret:          testSecret,
		From:               "CambiaCromos <no-reply@cambiacromos.com>",
		SiteURL:            "https://cambiacromos.test",
		AllowedOrigins:     "https://cambiacromos.test",
		RateLimitPerMinute: 60,
		RateLimitBurst:     3,
	}, sender, dir, zap.NewNop().Sugar())
	return s, sender, dir
}

func tokenFor(t *testing.T, userID, mail, role string) string {
	t.Helper()
	token, err := middleware.GenerateJWT(testSecret, userID, mail, role)
	if err != nil {
		t.Fatalf("JWTの発行に失敗: %v", err)
	}
	return token
}

func doRequest(s *Server, path, token string, body any) *httptest.ResponseRecorder {
	jsonBytes, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(jsonBytes))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSONのデコードに失敗: %v, body=%s", err, w.Body.String())
	}
	return result
}

func TestHandleCorporate(t *testing.T) {
	t.Parallel()

	valid := map[string]any{
		"to":      []string{"a@example.com", "b@example.com"},
		"subject": "Novedades de la temporada",
		"html":    "<p>Hola</p>",
	}

	t.Run("管理者は送信でき、idが返ること", func(t *testing.T) {
		t.Parallel()

		s, sender, _ := setupTestServer(t)
		w := doRequest(s, "/functions/v1/send-corporate-email", tokenFor(t, "admin-1", "admin@example.com", middleware.RoleAuthenticated), valid)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, body=%s", w.Code, w.Body.String())
		}
		resp := parseJSON(t, w)
		if resp["success"] != true || resp["id"] != "email-1" {
			t.Errorf("レスポンス: got %v", resp)
		}

		msgs := sender.messages()
		if len(msgs) != 1 || len(msgs[0].To) != 2 || msgs[0].From == "" {
			t.Fatalf("送信されたメール: got %+v", msgs)
		}
		if got := testutil.ToFloat64(s.sent.WithLabelValues(kindCorporate, "sent")); got != 1 {
			t.Errorf("emails_total: got %v, want 1", got)
		}
	})

	t.Run("サービスロールは管理者として扱われること", func(t *testing.T) {
		t.Parallel()

		s, _, _ := setupTestServer(t)
		w := doRequest(s, "/functions/v1/send-corporate-email", tokenFor(t, "", "", middleware.RoleServiceRole), valid)
		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, body=%s", w.Code, w.Body.String())
		}
	})

	t.Run("管理者でない場合は403を返すこと", func(t *testing.T) {
		t.Parallel()

		s, sender, _ := setupTestServer(t)
		w := doRequest(s, "/functions/v1/send-corporate-email", tokenFor(t, "user-1", "u@example.com", middleware.RoleAuthenticated), valid)
		if w.Code != http.StatusForbidden {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusForbidden)
		}
		if parseJSON(t, w)["success"] != false {
			t.Error("successはfalseであるべき")
		}
		if len(sender.messages()) != 0 {
			t.Error("メールが送信された")
		}
	})

	t.Run("権限の確認に失敗した場合は502を返すこと", func(t *testing.T) {
		t.Parallel()

		s, _, dir := setupTestServer(t)
		dir.err = errors.New("backend down")
		w := doRequest(s, "/functions/v1/send-corporate-email", tokenFor(t, "admin-1", "a@example.com", middleware.RoleAuthenticated), valid)
		if w.Code != http.StatusBadGateway {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadGateway)
		}
	})

	t.Run("送信APIが失敗した場合は502とsuccess=falseを返すこと", func(t *testing.T) {
		t.Parallel()

		s, sender, _ := setupTestServer(t)
		sender.err = errSend
		w := doRequest(s, "/functions/v1/send-corporate-email", tokenFor(t, "admin-1", "a@example.com", middleware.RoleAuthenticated), valid)
		if w.Code != http.StatusBadGateway {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusBadGateway)
		}
		if parseJSON(t, w)["success"] != false {
			t.Error("successはfalseであるべき")
		}
	})

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{name: "宛先がない", body: map[string]any{"subject": "Hola", "html": "x"}, field: "to"},
		{name: "宛先の形式が不正", body: map[string]any{"to": []string{"no-es-email"}, "subject": "Hola", "html": "x"}, field: "to"},
		{name: "件名が空", body: map[string]any{"to": []string{"a@example.com"}, "subject": "  ", "html": "x"}, field: "subject"},
		{name: "件名が長すぎる", body: map[string]any{"to": []string{"a@example.com"}, "subject": strings.Repeat("a", 201), "html": "x"}, field: "subject"},
		{name: "本文がない", body: map[string]any{"to": []string{"a@example.com"}, "subject": "Hola"}, field: "html"},
		{name: "返信先の形式が不正", body: map[string]any{"to": []string{"a@example.com"}, "subject": "Hola", "text": "x", "reply_to": "nope"}, field: "reply_to"},
	}
	for _, tt := range tests {
		t.Run(tt.name+"場合は400を返すこと", func(t *testing.T) {
			t.Parallel()

			s, sender, _ := setupTestServer(t)
			w := doRequest(s, "/functions/v1/send-corporate-email", tokenFor(t, "admin-1", "a@example.com", middleware.RoleAuthenticated), tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("ステータスコード: got %d, body=%s", w.Code, w.Body.String())
			}
			fields, _ := parseJSON(t, w)["fields"].(map[string]any)
			if _, ok := fields[tt.field]; !ok {
				t.Errorf("fields.%sがない: %v", tt.field, fields)
			}
			if len(sender.messages()) != 0 {
				t.Error("メールが送信された")
			}
		})
	}
}

func TestHandleNotification(t *testing.T) {
	t.Parallel()

	body := map[string]any{
		"kind":    "collection_completed",
		"payload": map[string]any{"collection_title": "Liga 2024", "template_id": 12},
	}

	t.Run("トークンのメールアドレスに整形済みの通知を送ること", func(t *testing.T) {
		t.Parallel()

		s, sender, _ := setupTestServer(t)
		w := doRequest(s, "/functions/v1/send-email-notification", tokenFor(t, "user-1", "user@example.com", middleware.RoleAuthenticated), body)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, body=%s", w.Code, w.Body.String())
		}

		msgs := sender.messages()
		if len(msgs) != 1 {
			t.Fatalf("送信数: got %d", len(msgs))
		}
		msg := msgs[0]
		if msg.To[0] != "user@example.com" {
			t.Errorf("宛先: got %v", msg.To)
		}
		if !strings.HasPrefix(msg.Subject, "¡Colección completada!") {
			t.Errorf("件名: got %q", msg.Subject)
		}
		if !strings.Contains(msg.HTML, "https://cambiacromos.test/collections/12") {
			t.Errorf("リンクがない: %s", msg.HTML)
		}
		if !strings.Contains(msg.Text, "Liga 2024") {
			t.Errorf("本文: got %q", msg.Text)
		}
	})

	t.Run("トークンにメールアドレスがない場合は認証APIから取得すること", func(t *testing.T) {
		t.Parallel()

		s, sender, _ := setupTestServer(t)
		w := doRequest(s, "/functions/v1/send-email-notification", tokenFor(t, "user-1", "", middleware.RoleAuthenticated), body)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, body=%s", w.Code, w.Body.String())
		}
		if got := sender.messages()[0].To[0]; got != "perfil@example.com" {
			t.Errorf("宛先: got %q", got)
		}
	})

	t.Run("一般ユーザーは宛先を指定できないこと", func(t *testing.T) {
		t.Parallel()

		s, _, _ := setupTestServer(t)
		w := doRequest(s, "/functions/v1/send-email-notification", tokenFor(t, "user-1", "user@example.com", middleware.RoleAuthenticated), map[string]any{
			"to":   "otro@example.com",
			"kind": "badge_earned",
		})
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("サービスロールは宛先を指定して送れること", func(t *testing.T) {
		t.Parallel()

		s, sender, _ := setupTestServer(t)
		w := doRequest(s, "/functions/v1/send-email-notification", tokenFor(t, "", "", middleware.RoleServiceRole), map[string]any{
			"to":   "otro@example.com",
			"kind": "badge_earned",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, body=%s", w.Code, w.Body.String())
		}
		if got := sender.messages()[0].To[0]; got != "otro@example.com" {
			t.Errorf("宛先: got %q", got)
		}
	})

	t.Run("未知の種別は400を返すこと", func(t *testing.T) {
		t.Parallel()

		s, _, _ := setupTestServer(t)
		w := doRequest(s, "/functions/v1/send-email-notification", tokenFor(t, "user-1", "user@example.com", middleware.RoleAuthenticated), map[string]any{"kind": "desconocido"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("トークンがない場合は401を返すこと", func(t *testing.T) {
		t.Parallel()

		s, _, _ := setupTestServer(t)
		w := doRequest(s, "/functions/v1/send-email-notification", "", body)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	s, _, _ := setupTestServer(t)
	token := tokenFor(t, "user-1", "user@example.com", middleware.RoleAuthenticated)
	body := map[string]any{"kind": "badge_earned"}

	for i := range 3 {
		if w := doRequest(s, "/functions/v1/send-email-notification", token, body); w.Code != http.StatusOK {
			t.Fatalf("%d回目: got %d", i+1, w.Code)
		}
	}
	if w := doRequest(s, "/functions/v1/send-email-notification", token, body); w.Code != http.StatusTooManyRequests {
		t.Errorf("上限超過: got %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}

func TestRenderNotification(t *testing.T) {
	t.Parallel()

	t.Run("本文はHTMLエスケープされること", func(t *testing.T) {
		t.Parallel()

		r, err := RenderNotification("https://cambiacromos.test/", rawBadge("<script>x</script>"))
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if strings.Contains(r.HTML, "<script>") {
			t.Errorf("エスケープされていない: %s", r.HTML)
		}
		if !strings.Contains(r.HTML, "https://cambiacromos.test/profile/badges") {
			t.Errorf("リンク: %s", r.HTML)
		}
	})
}

func rawBadge(name string) event.Raw {
	return event.Raw{Kind: event.KindBadgeEarned, Payload: event.Payload{"badge_name": name}}
}
