// Package realtime はWebSocket接続を受け付け、受信イベントをHubに渡す。
//
// クライアントは /ws/:appId に接続し、X-Client-Id / X-Device-Id ヘッダー
// （またはクエリ clientId / deviceId）で自身の識別子を渡す。受信フレームは
// イベント名ごとのハンドラテーブルで処理し、送信は接続ごとの送信キューと
// 単一の書き込みgoroutineで行う。
package realtime
