package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nao1215/notifyhub/internal/test/fakes"
	"github.com/nao1215/notifyhub/pkg/event"
)

// fakeRedis はpublishされたメッセージを記録するテスト用クライアント。
type fakeRedis struct {
	mu        sync.Mutex
	published []string
	channels  []string
	err       error
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.channels = append(f.channels, channel)
	f.published = append(f.published, string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Subscribe(_ context.Context, _ ...string) *redis.PubSub {
	return nil
}

// TestNewRedisBus はコンストラクタを検証する。
func TestNewRedisBus(t *testing.T) {
	t.Parallel()

	t.Run("クライアントがnilの場合はエラーになること", func(t *testing.T) {
		t.Parallel()
		if _, err := NewRedisBus(nil, &fakes.Emitter{}, "", zerolog.Nop()); err == nil {
			t.Fatal("エラーが返されるべき")
		}
	})

	t.Run("チャネル未指定なら既定のチャネルを使うこと", func(t *testing.T) {
		t.Parallel()
		b, err := NewRedisBus(&fakeRedis{}, &fakes.Emitter{}, "", zerolog.Nop())
		if err != nil {
			t.Fatalf("NewRedisBus()でエラーが発生: %v", err)
		}
		if b.channel != DefaultChannel {
			t.Errorf("channel = %q, want %q", b.channel, DefaultChannel)
		}
		if b.NodeID() == "" {
			t.Error("NodeIDが空")
		}
	})
}

// TestRedisBusEmit はローカル配信とpublishを検証する。
func TestRedisBusEmit(t *testing.T) {
	t.Parallel()

	t.Run("ローカル配信とpublishの両方が行われること", func(t *testing.T) {
		t.Parallel()
		client := &fakeRedis{}
		local := &fakes.Emitter{}
		b, _ := NewRedisBus(client, local, "test:emit", zerolog.Nop())

		err := b.Emit(context.Background(), "app-a", "match:1:count", event.NameDataUpdate, event.NewCountUpdate("match:1", 2))
		if err != nil {
			t.Fatalf("Emit()でエラーが発生: %v", err)
		}
		if len(local.To("app-a", "match:1:count")) != 1 {
			t.Error("ローカル配信されていない")
		}
		if len(client.published) != 1 || client.channels[0] != "test:emit" {
			t.Fatalf("published = %v, channels = %v", client.published, client.channels)
		}

		var env envelope
		if err := json.Unmarshal([]byte(client.published[0]), &env); err != nil {
			t.Fatalf("エンベロープのデコードに失敗: %v", err)
		}
		if env.Node != b.NodeID() || env.Namespace != "app-a" || env.Room != "match:1:count" || env.Event != event.NameDataUpdate {
			t.Errorf("envelope = %+v", env)
		}
		var cu event.CountUpdate
		if err := json.Unmarshal(env.Payload, &cu); err != nil || cu.Count != 2 {
			t.Errorf("payload = %s, err = %v", env.Payload, err)
		}
	})

	t.Run("publishが失敗してもローカル配信は行われること", func(t *testing.T) {
		t.Parallel()
		client := &fakeRedis{err: errors.New("connection refused")}
		local := &fakes.Emitter{}
		b, _ := NewRedisBus(client, local, "", zerolog.Nop())

		err := b.Emit(context.Background(), "app-a", "u1", event.NameDataUpdate, map[string]any{"a": 1})
		if err == nil {
			t.Fatal("エラーが返されるべき")
		}
		if len(local.To("app-a", "u1")) != 1 {
			t.Error("ローカル配信されていない")
		}
	})
}

// TestRedisBusHandle は受信したエンベロープの処理を検証する。
func TestRedisBusHandle(t *testing.T) {
	t.Parallel()

	newEnvelope := func(t *testing.T, node string) []byte {
		t.Helper()
		b, err := json.Marshal(envelope{
			Node:      node,
			Namespace: "app-a",
			Room:      "t1",
			Event:     event.NameDataUpdate,
			Payload:   json.RawMessage(`{"type":"httpRequest","topic":"t1"}`),
		})
		if err != nil {
			t.Fatalf("エンベロープの生成に失敗: %v", err)
		}
		return b
	}

	t.Run("他ノードからの配信はローカルへ流すこと", func(t *testing.T) {
		t.Parallel()
		local := &fakes.Emitter{}
		b, _ := NewRedisBus(&fakeRedis{}, local, "", zerolog.Nop())

		b.handle(context.Background(), newEnvelope(t, "other-node"))

		got := local.To("app-a", "t1")
		if len(got) != 1 {
			t.Fatalf("配信数 = %d, want 1", len(got))
		}
		raw, ok := got[0].Payload.(json.RawMessage)
		if !ok || string(raw) != `{"type":"httpRequest","topic":"t1"}` {
			t.Errorf("Payload = %v", got[0].Payload)
		}
	})

	t.Run("自ノードからの配信は無視すること", func(t *testing.T) {
		t.Parallel()
		local := &fakes.Emitter{}
		b, _ := NewRedisBus(&fakeRedis{}, local, "", zerolog.Nop())

		b.handle(context.Background(), newEnvelope(t, b.NodeID()))

		if got := local.Emissions(); len(got) != 0 {
			t.Errorf("配信された: %+v", got)
		}
	})

	t.Run("不正なエンベロープは破棄すること", func(t *testing.T) {
		t.Parallel()
		local := &fakes.Emitter{}
		b, _ := NewRedisBus(&fakeRedis{}, local, "", zerolog.Nop())

		b.handle(context.Background(), []byte(`{broken`))

		if got := local.Emissions(); len(got) != 0 {
			t.Errorf("配信された: %+v", got)
		}
	})
}
