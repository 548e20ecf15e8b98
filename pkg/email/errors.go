package email

import (
	"encoding/json"
	"fmt"

	"github.com/nao1215/cambiacromos/pkg/httpclient"
)

// APIError は送信APIが返したエラー。
type APIError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Name はエラー種別（例: "validation_error"）。
	Name string
	// Message はエラーメッセージ。
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("email API: status=%d, name=%s: %s", e.StatusCode, e.Name, e.Message)
}

func parseError(resp *httpclient.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		apiErr.Name = body.Name
		apiErr.Message = body.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = string(resp.Body)
	}
	return apiErr
}

func marshal(msg Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("メールのシリアライズに失敗: %w", err)
	}
	return b, nil
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("送信APIのレスポンスのデシリアライズに失敗: %w", err)
	}
	return nil
}
