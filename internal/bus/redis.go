package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nao1215/notifyhub/internal/delivery"
)

// DefaultChannel は既定のRedisチャネル名。
const DefaultChannel = "notifyhub:emit"

// redisClient はgo-redisのうち使用するメソッドだけを定義する。
type redisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// envelope はノード間でやり取りする配信内容。
type envelope struct {
	// Node は publish したノードのID。
	Node string `json:"node"`
	// Namespace はネームスペースID。
	Namespace string `json:"namespace"`
	// Room はルームキー。
	Room string `json:"room"`
	// Event はイベント名。
	Event string `json:"event"`
	// Payload はペイロード（JSON形式）。
	Payload json.RawMessage `json:"payload"`
}

// RedisBus はローカル配信とRedisへの publish を両方行うEmitter。
type RedisBus struct {
	client  redisClient
	local   delivery.Emitter
	channel string
	nodeID  string
	logger  zerolog.Logger
}

// NewRedisBus は新しいRedisBusを生成する。channel が空なら DefaultChannel を使う。
func NewRedisBus(client redisClient, local delivery.Emitter, channel string, logger zerolog.Logger) (*RedisBus, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	nodeID := uuid.NewString()
	return &RedisBus{
		client:  client,
		local:   local,
		channel: channel,
		nodeID:  nodeID,
		logger:  logger.With().Str("component", "bus").Str("node", nodeID).Logger(),
	}, nil
}

// NodeID はこのノードのIDを返す。
func (b *RedisBus) NodeID() string { return b.nodeID }

// Emit はローカル配信を行った後、他ノード向けに publish する。
// どちらかが失敗した場合もう一方は実行し、エラーをまとめて返す。
func (b *RedisBus) Emit(ctx context.Context, namespaceID, roomKey, eventName string, payload any) error {
	localErr := b.local.Emit(ctx, namespaceID, roomKey, eventName, payload)

	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Join(localErr, fmt.Errorf("ペイロードのシリアライズに失敗: %w", err))
	}
	msg, err := json.Marshal(envelope{
		Node:      b.nodeID,
		Namespace: namespaceID,
		Room:      roomKey,
		Event:     eventName,
		Payload:   raw,
	})
	if err != nil {
		return errors.Join(localErr, fmt.Errorf("エンベロープのシリアライズに失敗: %w", err))
	}
	if err := b.client.Publish(ctx, b.channel, msg).Err(); err != nil {
		b.logger.Error().Err(err).Str("channel", b.channel).Msg("Redisへのpublishに失敗")
		return errors.Join(localErr, fmt.Errorf("redis publish: %w", err))
	}
	return localErr
}

// Run はチャネルを購読し、他ノードからの配信をローカルへ流す。ctx がキャンセルされるまで戻らない。
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			b.logger.Warn().Err(err).Msg("購読のクローズに失敗")
		}
	}()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	b.logger.Info().Str("channel", b.channel).Msg("Redisチャネルの購読を開始しました")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Redisチャネルの購読を停止しました")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription channel closed")
			}
			b.handle(ctx, []byte(msg.Payload))
		}
	}
}

// handle は受信したエンベロープをローカル配信する。自ノード発のものは無視する。
func (b *RedisBus) handle(ctx context.Context, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		b.logger.Warn().Err(err).Msg("不正なエンベロープを破棄しました")
		return
	}
	if env.Node == b.nodeID {
		return
	}
	if err := b.local.Emit(ctx, env.Namespace, env.Room, env.Event, env.Payload); err != nil {
		b.logger.Warn().Err(err).
			Str("namespace", env.Namespace).
			Str("room", env.Room).
			Str("from", env.Node).
			Msg("中継された配信に失敗")
	}
}
