package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingEvent はフレームにイベント名が含まれていないことを表す。
var ErrMissingEvent = errors.New("イベント名がありません")

// NewCountUpdate は購読者数の通知ペイロードを生成する。
func NewCountUpdate(topic string, count int) CountUpdate {
	return CountUpdate{Type: TypeCount, Topic: topic, Count: count}
}

// Encode はイベント名とペイロードから送信用フレームを生成する。
func Encode(name string, payload any) ([]byte, error) {
	if name == "" {
		return nil, ErrMissingEvent
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ペイロードのシリアライズに失敗: %w", err)
	}
	b, err := json.Marshal(Frame{Event: name, Data: data})
	if err != nil {
		return nil, fmt.Errorf("フレームのシリアライズに失敗: %w", err)
	}
	return b, nil
}

// Decode は受信したバイト列をフレームにデシリアライズする。
func Decode(b []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("フレームのデシリアライズに失敗: %w", err)
	}
	if f.Event == "" {
		return nil, ErrMissingEvent
	}
	return &f, nil
}

// DecodeData はフレームのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](f *Frame) (*T, error) {
	var data T
	if err := json.Unmarshal(f.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
