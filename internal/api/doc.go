// Package api はnotifyhubのHTTP APIを提供する。
//
// バックエンドサービスから通知を送る /notify と /batch-notify、
// ネームスペースの状態を返す /stats/:appId、死活監視用の /health、
// およびクライアント接続用の /ws/:appId をルーティングする。
package api
