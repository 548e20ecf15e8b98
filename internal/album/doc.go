// Package album はコレクション管理のバックエンド（BFF）を提供する。
//
// ユーザーごとにプロフィール・コレクション・出品のローカルキャッシュ（セッション）を持ち、
// 変更は楽観的更新としてまずキャッシュに反映してからバックエンドに送る。
// バックエンドへの呼び出しが失敗した場合は変更を取り消し、SSEでトーストを通知する。
package album
