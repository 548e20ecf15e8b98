// Package mailer はトランザクションメールの送信を中継するサービスを実装する。
//
// 管理者向けの一斉メール（send-corporate-email）と、通知を整形して本人に送るメール
// （send-email-notification）の2つのエンドポイントを提供する。
// どちらもJWTで認証し、結果は{success, id}または{success:false, error}のJSONで返す。
package mailer
