package inbound

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// 署名ヘッダー。
const (
	headerID        = "svix-id"
	headerTimestamp = "svix-timestamp"
	headerSignature = "svix-signature"
)

const secretPrefix = "whsec_"

var (
	// ErrInvalidSignature は署名の検証に失敗したことを表す。
	ErrInvalidSignature = errors.New("webhookの署名が不正です")
	// ErrMissingHeaders は署名ヘッダーが欠けていることを表す。
	ErrMissingHeaders = fmt.Errorf("署名ヘッダーがありません: %w", ErrInvalidSignature)
	// ErrTimestampOutOfRange はタイムスタンプが許容範囲外であることを表す。
	ErrTimestampOutOfRange = fmt.Errorf("タイムスタンプが許容範囲外です: %w", ErrInvalidSignature)
)

// Verifier はWebhookの署名を検証する。
// 署名対象は"<id>.<timestamp>.<body>"で、鍵はwhsec_以降をBase64デコードしたもの。
// 署名ヘッダーには"v1,<Base64のHMAC-SHA256>"を空白区切りで複数含められる。
type Verifier struct {
	key       []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier は署名鍵からVerifierを生成する。
func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
	if err != nil {
		return nil, fmt.Errorf("webhookの署名鍵のデコードに失敗: %w", err)
	}
	if len(key) == 0 {
		return nil, errors.New("webhookの署名鍵が空です")
	}
	return &Verifier{key: key, tolerance: tolerance, now: time.Now}, nil
}

// Verify はヘッダーとボディの署名を検証し、配信IDを返す。
func (v *Verifier) Verify(header http.Header, body []byte) (string, error) {
	id := header.Get(headerID)
	ts := header.Get(headerTimestamp)
	sigs := header.Get(headerSignature)
	if id == "" || ts == "" || sigs == "" {
		return "", ErrMissingHeaders
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", fmt.Errorf("タイムスタンプが不正です: %w", ErrInvalidSignature)
	}
	if diff := v.now().Sub(time.Unix(sec, 0)); diff > v.tolerance || diff < -v.tolerance {
		return "", ErrTimestampOutOfRange
	}

	expected := v.sign(id, ts, body)
	for _, candidate := range strings.Fields(sigs) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return id, nil
		}
	}
	return "", ErrInvalidSignature
}

// Sign は署名ヘッダーの値（v1,<signature>）を返す。
func (v *Verifier) Sign(id string, timestamp time.Time, body []byte) string {
	ts := strconv.FormatInt(timestamp.Unix(), 10)
	return "v1," + base64.StdEncoding.EncodeToString(v.sign(id, ts, body))
}

func (v *Verifier) sign(id, ts string, body []byte) []byte {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(id))
	mac.Write([]byte{'.'})
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return mac.Sum(nil)
}
