// Package httpclient は外部APIを呼び出すためのHTTPクライアントを提供する。
//
// マネージドバックエンド（REST/RPC/ストレージ/認証）とメール送信APIのクライアントが
// この上に構築される。共通ヘッダーの付与、リクエストIDの伝播、
// 429/5xxとネットワークエラーに対する指数バックオフ付きリトライを統一する。
package httpclient
