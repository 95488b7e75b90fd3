// Package middleware はnotifyhubのHTTP APIで使用する共通ミドルウェアを提供する。
//
// 通知トリガー用のJWT検証、zerologによるリクエストログ、パニックリカバリ、
// CORS設定を含む。
package middleware
