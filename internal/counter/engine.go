package counter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nao1215/notifyhub/internal/delivery"
	"github.com/nao1215/notifyhub/internal/namespace"
	"github.com/nao1215/notifyhub/internal/room"
	"github.com/nao1215/notifyhub/pkg/event"
)

// Engine はメンバーシップ変更に応じて購読者数を配信する。
// メンバーシップは読み取るだけで変更しない。
type Engine struct {
	emitter delivery.Emitter
	logger  zerolog.Logger
}

// NewEngine は新しいEngineを生成する。
func NewEngine(emitter delivery.Emitter, logger zerolog.Logger) *Engine {
	return &Engine{
		emitter: emitter,
		logger:  logger.With().Str("component", "counter").Logger(),
	}
}

// OnJoin は接続がトピックルームに参加した直後に呼ばれる。
// カウントルームにメンバーがいる場合だけ参加後の件数を配信する。
func (e *Engine) OnJoin(ctx context.Context, ns *namespace.Namespace, topic string) {
	n := ns.Rooms().Size(topic)
	if n == 0 {
		return
	}
	e.broadcast(ctx, ns, topic, n)
}

// OnLeave は接続がルームから抜けた後に呼ばれる。
// 対象ルームで、退出後もメンバーが残る場合だけ退出後の件数を配信する。
func (e *Engine) OnLeave(ctx context.Context, ns *namespace.Namespace, d room.Departure) {
	if !room.LeaveBroadcastEligible(d.Key, d.Kinds) {
		return
	}
	if d.SizeBefore <= 1 {
		return
	}
	e.broadcast(ctx, ns, d.Key, d.SizeBefore-1)
}

// broadcast はカウントルームが空でなければ件数を配信する。
func (e *Engine) broadcast(ctx context.Context, ns *namespace.Namespace, topic string, count int) {
	countKey := room.CountKey(topic)
	if ns.Rooms().Size(countKey) == 0 {
		return
	}
	if err := e.emitter.Emit(ctx, ns.ID(), countKey, event.NameDataUpdate, event.NewCountUpdate(topic, count)); err != nil {
		e.logger.Warn().Err(err).
			Str("namespace", ns.ID()).
			Str("topic", topic).
			Int("count", count).
			Msg("購読者数の配信に失敗")
	}
}
