// Package event はクライアント接続とサービス間でやり取りするメッセージ形式を定義する。
//
// WebSocket上のフレームは {"event": "<名前>", "data": <任意のJSON>} の形を取る。
// クライアントからは subscribe / subscribeCount を受け取り、
// サーバーからは dataUpdate を送信する。
package event
