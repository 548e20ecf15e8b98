package inbound

import (
	"context"
	"fmt"
	"html"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/cambiacromos/pkg/email"
)

// Status は転送の結果。
type Status string

const (
	// StatusSuccess はすべての転送先に送れたことを表す。
	StatusSuccess Status = "success"
	// StatusPartialFailure は一部の転送先にだけ送れたことを表す。
	StatusPartialFailure Status = "partial_failure"
	// StatusFailed は1件も送れなかったことを表す。転送先がない場合も含む。
	StatusFailed Status = "failed"
)

// DeliveryStatus は転送先の数totalと送信できた数deliveredから結果を決める。
func DeliveryStatus(total, delivered int) Status {
	switch {
	case delivered <= 0:
		return StatusFailed
	case delivered >= total:
		return StatusSuccess
	default:
		return StatusPartialFailure
	}
}

// Result は転送処理の結果。
type Result struct {
	// Delivered は送信できた転送先。
	Delivered []string
	// Failures は送信できなかった転送先とエラー。
	Failures map[string]error
	// Status は全体の結果。
	Status Status
}

// Forwarder は受信メールを転送先に送る。
type Forwarder struct {
	sender email.Sender
	from   string
	limit  int
}

// NewForwarder は新しいForwarderを生成する。limitは同時に行う送信の上限。
func NewForwarder(sender email.Sender, from string, limit int) *Forwarder {
	if limit < 1 {
		limit = 1
	}
	return &Forwarder{sender: sender, from: from, limit: limit}
}

// Forward はaddressesの各アドレスにメールを送る。1件の失敗で他の送信は止めない。
func (f *Forwarder) Forward(ctx context.Context, in Email, addresses []string) Result {
	res := Result{Failures: make(map[string]error)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.limit)
	for _, addr := range addresses {
		g.Go(func() error {
			_, err := f.sender.Send(gctx, f.message(in, addr))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failures[addr] = err
				return nil
			}
			res.Delivered = append(res.Delivered, addr)
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(res.Delivered)
	res.Status = DeliveryStatus(len(addresses), len(res.Delivered))
	return res
}

func (f *Forwarder) message(in Email, to string) email.Message {
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		subject = "(sin asunto)"
	}

	header := fmt.Sprintf("De: %s\nPara: %s\n\n", in.From, strings.Join(in.To, ", "))
	msg := email.Message{
		To:      []string{to},
		From:    f.from,
		Subject: "Fwd: " + subject,
		ReplyTo: []string{in.From},
		Text:    header + in.Text,
		Tags:    []email.Tag{{Name: "category", Value: "inbound_forward"}},
	}
	if in.HTML != "" {
		msg.HTML = fmt.Sprintf("<p style=\"color:#6b7280\">De: %s<br>Para: %s</p><hr>%s",
			html.EscapeString(in.From), html.EscapeString(strings.Join(in.To, ", ")), in.HTML)
	}
	return msg
}

// Summary は失敗した転送先をまとめた文字列を返す。失敗がなければnil。
func (r Result) Summary() *string {
	if len(r.Failures) == 0 {
		return nil
	}
	parts := make([]string, 0, len(r.Failures))
	for addr, err := range r.Failures {
		parts = append(parts, addr+": "+err.Error())
	}
	slices.Sort(parts)
	s := strings.Join(parts, "; ")
	return &s
}
