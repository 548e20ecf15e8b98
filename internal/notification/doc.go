// Package notification は通知サービスを提供する。
// バックエンドのnotificationsテーブルへの挿入をRealtimeで受け取ってSQLiteに保存し、
// 整形済み（スペイン語）の通知一覧・既読管理・SSEによるプッシュ配信を行う。
// 既読になってから一定期間を過ぎた通知は定期ジョブで削除する。
package notification
