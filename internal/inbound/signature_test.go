package inbound

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"
)

var testWebhookSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("clave-de-prueba-para-webhooks"))

// fixedNow はテストで使う現在時刻。
var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(testWebhookSecret, 5*time.Minute)
	if err != nil {
		t.Fatalf("Verifierの生成に失敗: %v", err)
	}
	v.now = func() time.Time { return fixedNow }
	return v
}

// signedHeader は署名済みのWebhookヘッダーを返す。
func signedHeader(v *Verifier, id string, ts time.Time, body []byte) http.Header {
	h := make(http.Header)
	h.Set(headerID, id)
	h.Set(headerTimestamp, strconv.FormatInt(ts.Unix(), 10))
	h.Set(headerSignature, v.Sign(id, ts, body))
	return h
}

func TestNewVerifier(t *testing.T) {
	t.Parallel()

	if _, err := NewVerifier("whsec_***", time.Minute); err == nil {
		t.Error("Base64でない鍵はエラーになるべき")
	}
	if _, err := NewVerifier("whsec_", time.Minute); err == nil {
		t.Error("空の鍵はエラーになるべき")
	}
	if _, err := NewVerifier(base64.StdEncoding.EncodeToString([]byte("sin-prefijo")), time.Minute); err != nil {
		t.Errorf("接頭辞のない鍵も受け付けるべき: %v", err)
	}
}

func TestVerifier_Verify(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t)
	body := []byte(`{"type":"email.received","data":{"from":"a@example.com"}}`)

	t.Run("正しい署名は配信IDを返すこと", func(t *testing.T) {
		t.Parallel()

		id, err := v.Verify(signedHeader(v, "msg_1", fixedNow, body), body)
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if id != "msg_1" {
			t.Errorf("配信ID: got %q", id)
		}
	})

	t.Run("複数の署名のうち1つが正しければ受け付けること", func(t *testing.T) {
		t.Parallel()

		h := signedHeader(v, "msg_2", fixedNow, body)
		h.Set(headerSignature, "v2,ignorado v1,"+base64.StdEncoding.EncodeToString([]byte("incorrecta"))+" "+h.Get(headerSignature))
		if _, err := v.Verify(h, body); err != nil {
			t.Errorf("予期しないエラー: %v", err)
		}
	})

	tests := []struct {
		name    string
		header  func() http.Header
		body    []byte
		wantErr error
	}{
		{
			name:    "ボディが改ざんされている",
			header:  func() http.Header { return signedHeader(v, "msg_3", fixedNow, body) },
			body:    []byte(`{"type":"email.received","data":{"from":"evil@example.com"}}`),
			wantErr: ErrInvalidSignature,
		},
		{
			name: "別の鍵で署名されている",
			header: func() http.Header {
				other, _ := NewVerifier("whsec_"+base64.StdEncoding.EncodeToString([]byte("otra-clave")), time.Minute)
				return signedHeader(other, "msg_4", fixedNow, body)
			},
			body:    body,
			wantErr: ErrInvalidSignature,
		},
		{
			name: "ヘッダーが欠けている",
			header: func() http.Header {
				h := signedHeader(v, "msg_5", fixedNow, body)
				h.Del(headerID)
				return h
			},
			body:    body,
			wantErr: ErrMissingHeaders,
		},
		{
			name:    "タイムスタンプが古すぎる",
			header:  func() http.Header { return signedHeader(v, "msg_6", fixedNow.Add(-6*time.Minute), body) },
			body:    body,
			wantErr: ErrTimestampOutOfRange,
		},
		{
			name:    "タイムスタンプが未来すぎる",
			header:  func() http.Header { return signedHeader(v, "msg_7", fixedNow.Add(6*time.Minute), body) },
			body:    body,
			wantErr: ErrTimestampOutOfRange,
		},
		{
			name: "タイムスタンプが数値でない",
			header: func() http.Header {
				h := signedHeader(v, "msg_8", fixedNow, body)
				h.Set(headerTimestamp, "ayer")
				return h
			},
			body:    body,
			wantErr: ErrInvalidSignature,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name+"場合はエラーになること", func(t *testing.T) {
			t.Parallel()

			_, err := v.Verify(tt.header(), tt.body)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("ErrInvalidSignatureを含むべき: %v", err)
			}
		})
	}

	t.Run("許容範囲内の時刻のずれは受け付けること", func(t *testing.T) {
		t.Parallel()

		if _, err := v.Verify(signedHeader(v, "msg_9", fixedNow.Add(-4*time.Minute), body), body); err != nil {
			t.Errorf("予期しないエラー: %v", err)
		}
	})
}
