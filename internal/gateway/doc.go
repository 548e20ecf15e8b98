// Package gateway は外部からのリクエストを受け付けるエッジサービス。
//
// 公開するルートだけを各サービスへ転送する。/api/v1 と送信系のエッジ関数は
// ここでJWTを検証し、検証済みのユーザーIDをX-User-IDヘッダーで渡す。
// 受信メールのwebhookは署名で認証するためJWTを要求しない。
// SSEを中継できるよう、レスポンスは逐次フラッシュする。
package gateway
