// Package fakes はテスト用のEmitter実装を提供する。
package fakes

import (
	"context"
	"maps"
	"sync"
)

// Emission はEmitの1回分の呼び出し内容。
type Emission struct {
	// Namespace はネームスペースID。
	Namespace string
	// Room はルームキー。
	Room string
	// Event はイベント名。
	Event string
	// Payload は渡されたペイロード。map[string]any の場合は呼び出し時点のコピー。
	Payload any
}

// Emitter は呼び出しを記録するEmitter。
type Emitter struct {
	mu        sync.Mutex
	emissions []Emission
	// FailFn がtrueを返した呼び出しはErrを返す。
	FailFn func(namespaceID, roomKey string) bool
	// Err はFailFnが一致したときに返すエラー。
	Err error
	// PanicFn がtrueを返した呼び出しはpanicする。
	PanicFn func(namespaceID, roomKey string) bool
}

// Emit は呼び出しを記録する。
func (e *Emitter) Emit(_ context.Context, namespaceID, roomKey, eventName string, payload any) error {
	if e.PanicFn != nil && e.PanicFn(namespaceID, roomKey) {
		panic("fakes: emit panic")
	}
	if e.FailFn != nil && e.FailFn(namespaceID, roomKey) {
		return e.Err
	}
	if m, ok := payload.(map[string]any); ok {
		payload = maps.Clone(m)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emissions = append(e.emissions, Emission{
		Namespace: namespaceID,
		Room:      roomKey,
		Event:     eventName,
		Payload:   payload,
	})
	return nil
}

// Emissions は記録済みの呼び出しのコピーを返す。
func (e *Emitter) Emissions() []Emission {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Emission, len(e.emissions))
	copy(out, e.emissions)
	return out
}

// To は指定ルームへの呼び出しだけを返す。
func (e *Emitter) To(namespaceID, roomKey string) []Emission {
	var out []Emission
	for _, em := range e.Emissions() {
		if em.Namespace == namespaceID && em.Room == roomKey {
			out = append(out, em)
		}
	}
	return out
}
