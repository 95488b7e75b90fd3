package notify

import (
	"errors"
	"maps"
	"time"

	"github.com/nao1215/notifyhub/pkg/event"
)

var (
	// ErrEmptyAppID はアプリケーションIDが空であることを表す。
	ErrEmptyAppID = errors.New("appId is required")
	// ErrNoTarget は配信先が1つも指定されていないことを表す。
	ErrNoTarget = errors.New("At least one of 'users', 'devices', or 'eventTopics' must be provided")
)

const (
	// fieldType はペイロードの種別フィールド名。
	fieldType = "type"
	// fieldTopic はトピック配信時に付与するフィールド名。
	fieldTopic = "topic"
	// fieldTimestamp は送信時刻のフィールド名。
	fieldTimestamp = "timestamp"
	// timestampLayout はミリ秒精度のRFC3339形式。
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Request は1件の通知リクエスト。
type Request struct {
	// AppID は配信先のアプリケーションID。
	AppID string
	// Users は配信先のクライアントID一覧。
	Users []string
	// Devices は配信先のデバイスID一覧。
	Devices []string
	// EventTopics は配信先のトピックキー一覧。
	EventTopics []string
	// EventName はクライアントに送るイベント名。空なら dataUpdate。
	EventName string
	// Data は呼び出し元が指定したペイロード。
	Data map[string]any
}

// Validate は副作用を起こす前にリクエストを検証する。
func (r Request) Validate() error {
	if r.AppID == "" {
		return ErrEmptyAppID
	}
	if len(r.Users) == 0 && len(r.Devices) == 0 && len(r.EventTopics) == 0 {
		return ErrNoTarget
	}
	return nil
}

// eventName は配信に使うイベント名を返す。
func (r Request) eventName() string {
	if r.EventName == "" {
		return event.NameDataUpdate
	}
	return r.EventName
}

// buildPayload は呼び出し元のデータを複製し、type と timestamp が無ければ補う。
// 元の Data は変更しない。
func buildPayload(data map[string]any, now time.Time) map[string]any {
	payload := make(map[string]any, len(data)+2)
	maps.Copy(payload, data)
	if _, ok := payload[fieldType]; !ok {
		payload[fieldType] = string(event.TypeHTTPRequest)
	}
	if _, ok := payload[fieldTimestamp]; !ok {
		payload[fieldTimestamp] = now.UTC().Format(timestampLayout)
	}
	return payload
}

// topicPayload はトピックごとの複製を作り topic フィールドを設定する。
func topicPayload(base map[string]any, topic string) map[string]any {
	payload := maps.Clone(base)
	payload[fieldTopic] = topic
	return payload
}
