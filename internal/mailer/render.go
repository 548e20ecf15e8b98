package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/nao1215/cambiacromos/pkg/event"
)

var notificationTemplate = template.Must(template.New("notification").Parse(`<!DOCTYPE html>
<html lang="es">
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <h2 style="margin-bottom: 8px;">{{.Title}}</h2>
  <p style="font-size: 15px;">{{.Body}}</p>
  {{- if .Link}}
  <p><a href="{{.Link}}" style="display: inline-block; padding: 10px 16px; background: #f59e0b; color: #111827; text-decoration: none; border-radius: 6px;">Ver en CambiaCromos</a></p>
  {{- end}}
  <hr style="border: none; border-top: 1px solid #e5e7eb; margin-top: 24px;">
  <p style="font-size: 12px; color: #6b7280;">Recibes este correo porque tienes activadas las notificaciones por email en CambiaCromos.</p>
</body>
</html>
`))

// Rendered は通知メールの件名と本文。
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// RenderNotification は通知を整形してメールの件名と本文を生成する。
// 遷移先がある場合はsiteURLと連結したリンクを付ける。
func RenderNotification(siteURL string, raw event.Raw) (Rendered, error) {
	d := event.Format(raw)

	var link string
	if d.Href != nil {
		link = strings.TrimRight(siteURL, "/") + *d.Href
	}

	var buf bytes.Buffer
	err := notificationTemplate.Execute(&buf, struct {
		Title string
		Body  string
		Link  string
	}{Title: d.Title, Body: d.Body, Link: link})
	if err != nil {
		return Rendered{}, fmt.Errorf("通知メールの生成に失敗: %w", err)
	}

	text := d.Title + "\n\n" + d.Body
	if link != "" {
		text += "\n\n" + link
	}
	return Rendered{
		Subject: d.Title + " | CambiaCromos",
		HTML:    buf.String(),
		Text:    text,
	}, nil
}
