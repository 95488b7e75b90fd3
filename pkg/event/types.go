package event

import "encoding/json"

const (
	// NameDataUpdate はサーバーからクライアントへ送る既定のイベント名。
	NameDataUpdate = "dataUpdate"
	// NameSubscribe はトピック購読を要求するイベント名。
	NameSubscribe = "subscribe"
	// NameSubscribeCount は購読者数の通知を要求するイベント名。
	NameSubscribeCount = "subscribeCount"
)

// PayloadType はdataUpdateペイロードの type フィールドの値を表す。
type PayloadType string

const (
	// TypeCount は購読者数の更新を表す。
	TypeCount PayloadType = "count"
	// TypeHTTPRequest はHTTP経由で送信された通知を表す。
	TypeHTTPRequest PayloadType = "httpRequest"
)

// Frame はWebSocket上でやり取りされる1メッセージ。
type Frame struct {
	// Event はイベント名。
	Event string `json:"event"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data,omitempty"`
}

// CountUpdate はトピックの購読者数の通知ペイロード。
// トピックキーと件数以外の情報は含めない。
type CountUpdate struct {
	// Type は常に "count"。
	Type PayloadType `json:"type"`
	// Topic は対象のトピックキー。
	Topic string `json:"topic"`
	// Count はトピックルームのメンバー数。
	Count int `json:"count"`
}
