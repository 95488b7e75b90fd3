package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nao1215/notifyhub/internal/namespace"
	"github.com/nao1215/notifyhub/pkg/event"
)

// Emitter はネームスペース内のルームのメンバー全員にイベントを配信する。
type Emitter interface {
	Emit(ctx context.Context, namespaceID, roomKey, eventName string, payload any) error
}

// Sender は1接続への送信口。送信は非同期で、完了を待たずに戻る。
type Sender interface {
	Send(frame []byte) error
}

// Local はこのプロセスに接続しているセッションへ直接配信するEmitter。
type Local struct {
	// registry はルームメンバーの解決に使うネームスペースレジストリ。読み取り専用で使う。
	registry *namespace.Registry
	// senders はセッションIDから送信口への対応。
	senders sync.Map // map[string]Sender
	logger  zerolog.Logger
}

// NewLocal は新しいLocalエミッターを生成する。
func NewLocal(registry *namespace.Registry, logger zerolog.Logger) *Local {
	return &Local{
		registry: registry,
		logger:   logger.With().Str("component", "delivery").Logger(),
	}
}

// Register はセッションの送信口を登録する。
func (l *Local) Register(sessionID string, s Sender) {
	l.senders.Store(sessionID, s)
}

// Unregister はセッションの送信口を削除する。
func (l *Local) Unregister(sessionID string) {
	l.senders.Delete(sessionID)
}

// Emit はルームのメンバーそれぞれにフレームを送信する。
// ネームスペースやルームが存在しない場合は何もしない。
// 一部のメンバーへの送信が失敗しても残りのメンバーへの送信は続け、失敗をまとめて返す。
func (l *Local) Emit(_ context.Context, namespaceID, roomKey, eventName string, payload any) error {
	ns, ok := l.registry.Get(namespaceID)
	if !ok {
		return nil
	}
	members := ns.Rooms().Members(roomKey)
	if len(members) == 0 {
		return nil
	}

	frame, err := event.Encode(eventName, payload)
	if err != nil {
		return fmt.Errorf("フレームの生成に失敗: %w", err)
	}

	var errs []error
	for _, id := range members {
		v, ok := l.senders.Load(id)
		if !ok {
			continue
		}
		if err := v.(Sender).Send(frame); err != nil {
			l.logger.Warn().Err(err).
				Str("namespace", namespaceID).
				Str("room", roomKey).
				Str("session", id).
				Msg("セッションへの送信に失敗")
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
