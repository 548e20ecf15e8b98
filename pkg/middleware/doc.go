// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// バックエンドが発行したJWTの検証、リクエストID、アクセスログ、パニックリカバリ、
// CORS、レート制限、Prometheusメトリクスなど、全サービスで共通して使用するミドルウェアを含む。
package middleware
