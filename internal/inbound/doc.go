// Package inbound は受信メールのWebhookを受け取り、登録された転送先に中継するサービスを実装する。
//
// 処理の流れは、署名の検証、重複配信の判定、転送先の取得、並行した転送、結果の記録の順。
// 送信元のリトライが集中しないよう、署名の検証や処理に失敗した場合も常に200で応答する。
package inbound
