package inbound

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// eventEmailReceived は受信メールのイベント種別。
const eventEmailReceived = "email.received"

// ErrUnsupportedEvent は受信メール以外のイベントであることを表す。
var ErrUnsupportedEvent = errors.New("受信メール以外のイベントです")

// Email はWebhookから取り出した受信メール。
type Email struct {
	// ID は送信APIが払い出したメールID。
	ID string
	// From は送信者。
	From string
	// To は宛先。
	To []string
	// Subject は件名。
	Subject string
	// HTML はHTML本文。
	HTML string
	// Text はテキスト本文。
	Text string
}

// ParseEmail はWebhookのボディから受信メールを取り出す。
func ParseEmail(body []byte) (Email, error) {
	if !gjson.ValidBytes(body) {
		return Email{}, errors.New("webhookのボディがJSONではありません")
	}
	root := gjson.ParseBytes(body)
	if t := root.Get("type").String(); t != eventEmailReceived {
		return Email{}, ErrUnsupportedEvent
	}

	data := root.Get("data")
	e := Email{
		ID:      firstString(data, "email_id", "id"),
		From:    strings.TrimSpace(data.Get("from").String()),
		Subject: data.Get("subject").String(),
		HTML:    data.Get("html").String(),
		Text:    data.Get("text").String(),
	}
	to := data.Get("to")
	if to.IsArray() {
		for _, r := range to.Array() {
			if s := strings.TrimSpace(r.String()); s != "" {
				e.To = append(e.To, s)
			}
		}
	} else if s := strings.TrimSpace(to.String()); s != "" {
		e.To = []string{s}
	}
	if e.From == "" {
		return Email{}, errors.New("受信メールに送信者がありません")
	}
	return e, nil
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}
