// Package httpclient はnotifyhubのHTTP APIを呼び出すクライアントを提供する。
//
// 通知を送るバックエンドサービスやnotifyctlが使用する。
// /notify、/batch-notify、/stats/:appId、/health を型付きで呼び出せる。
package httpclient
