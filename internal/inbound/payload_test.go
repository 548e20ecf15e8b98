package inbound

import (
	"errors"
	"testing"
)

func TestParseEmail(t *testing.T) {
	t.Parallel()

	t.Run("受信メールの項目を取り出すこと", func(t *testing.T) {
		t.Parallel()

		e, err := ParseEmail([]byte(`{
			"type": "email.received",
			"created_at": "2026-03-10T12:00:00Z",
			"data": {
				"email_id": "em_1",
				"from": " Lucía <lucia@example.com> ",
				"to": ["hola@cambiacromos.com", ""],
				"subject": "Consulta",
				"html": "<p>Hola</p>",
				"text": "Hola"
			}
		}`))
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if e.ID != "em_1" || e.From != "Lucía <lucia@example.com>" || e.Subject != "Consulta" {
			t.Errorf("got %+v", e)
		}
		if len(e.To) != 1 || e.To[0] != "hola@cambiacromos.com" {
			t.Errorf("To: got %v", e.To)
		}
	})

	t.Run("宛先が文字列の場合も受け付けること", func(t *testing.T) {
		t.Parallel()

		e, err := ParseEmail([]byte(`{"type":"email.received","data":{"id":"em_2","from":"a@example.com","to":"hola@cambiacromos.com"}}`))
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if e.ID != "em_2" || len(e.To) != 1 {
			t.Errorf("got %+v", e)
		}
	})

	t.Run("受信メール以外のイベントはErrUnsupportedEventになること", func(t *testing.T) {
		t.Parallel()

		_, err := ParseEmail([]byte(`{"type":"email.delivered","data":{}}`))
		if !errors.Is(err, ErrUnsupportedEvent) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("不正なボディはエラーになること", func(t *testing.T) {
		t.Parallel()

		for _, body := range []string{`no es json`, `{"type":"email.received","data":{"to":["x@example.com"]}}`} {
			if _, err := ParseEmail([]byte(body)); err == nil || errors.Is(err, ErrUnsupportedEvent) {
				t.Errorf("%s: got %v", body, err)
			}
		}
	})
}
