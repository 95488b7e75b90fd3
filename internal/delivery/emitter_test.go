package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nao1215/notifyhub/internal/namespace"
	"github.com/nao1215/notifyhub/internal/room"
	"github.com/nao1215/notifyhub/pkg/event"
)

// recordingSender は受け取ったフレームを記録するテスト用Sender。
type recordingSender struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (s *recordingSender) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// TestLocalEmit はLocalエミッターの配信を検証する。
func TestLocalEmit(t *testing.T) {
	t.Parallel()

	t.Run("ルームのメンバー全員に配信されること", func(t *testing.T) {
		t.Parallel()

		registry := namespace.NewRegistry()
		ns := registry.GetOrCreate("app-a")
		ns.Rooms().Join("s1", "match:1", room.KindTopic)
		ns.Rooms().Join("s2", "match:1", room.KindTopic)
		ns.Rooms().Join("s3", "match:2", room.KindTopic)

		local := NewLocal(registry, zerolog.Nop())
		s1, s2, s3 := &recordingSender{}, &recordingSender{}, &recordingSender{}
		local.Register("s1", s1)
		local.Register("s2", s2)
		local.Register("s3", s3)

		err := local.Emit(context.Background(), "app-a", "match:1", event.NameDataUpdate, event.NewCountUpdate("match:1", 2))
		if err != nil {
			t.Fatalf("Emit()でエラーが発生: %v", err)
		}
		if s1.count() != 1 || s2.count() != 1 {
			t.Errorf("配信数: s1=%d, s2=%d, want 1, 1", s1.count(), s2.count())
		}
		if s3.count() != 0 {
			t.Errorf("別ルームのs3に配信された: %d", s3.count())
		}

		f, err := event.Decode(s1.frames[0])
		if err != nil {
			t.Fatalf("フレームのデコードに失敗: %v", err)
		}
		var cu event.CountUpdate
		if err := json.Unmarshal(f.Data, &cu); err != nil {
			t.Fatalf("データのデコードに失敗: %v", err)
		}
		if cu.Count != 2 || cu.Topic != "match:1" {
			t.Errorf("CountUpdate = %+v", cu)
		}
	})

	t.Run("存在しないネームスペースへの配信は何もしないこと", func(t *testing.T) {
		t.Parallel()

		registry := namespace.NewRegistry()
		local := NewLocal(registry, zerolog.Nop())

		if err := local.Emit(context.Background(), "missing", "room", event.NameDataUpdate, map[string]any{}); err != nil {
			t.Errorf("Emit()でエラーが発生: %v", err)
		}
		if _, ok := registry.Get("missing"); ok {
			t.Error("Emit()でネームスペースが作成された")
		}
	})

	t.Run("一部の送信失敗で他のメンバーへの配信が止まらないこと", func(t *testing.T) {
		t.Parallel()

		registry := namespace.NewRegistry()
		ns := registry.GetOrCreate("app-a")
		ns.Rooms().Join("s1", "match:1", room.KindTopic)
		ns.Rooms().Join("s2", "match:1", room.KindTopic)

		local := NewLocal(registry, zerolog.Nop())
		broken := &recordingSender{err: errors.New("送信バッファが満杯")}
		healthy := &recordingSender{}
		local.Register("s1", broken)
		local.Register("s2", healthy)

		err := local.Emit(context.Background(), "app-a", "match:1", event.NameDataUpdate, map[string]any{"a": 1})
		if err == nil {
			t.Fatal("エラーが返されるべき")
		}
		if healthy.count() != 1 {
			t.Errorf("正常なセッションへの配信数 = %d, want 1", healthy.count())
		}
	})

	t.Run("登録解除されたセッションには配信されないこと", func(t *testing.T) {
		t.Parallel()

		registry := namespace.NewRegistry()
		registry.GetOrCreate("app-a").Rooms().Join("s1", "user-1", room.KindIdentity)

		local := NewLocal(registry, zerolog.Nop())
		s1 := &recordingSender{}
		local.Register("s1", s1)
		local.Unregister("s1")

		if err := local.Emit(context.Background(), "app-a", "user-1", event.NameDataUpdate, map[string]any{}); err != nil {
			t.Errorf("Emit()でエラーが発生: %v", err)
		}
		if s1.count() != 0 {
			t.Errorf("配信数 = %d, want 0", s1.count())
		}
	})
}
