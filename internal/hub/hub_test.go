package hub

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nao1215/notifyhub/internal/counter"
	"github.com/nao1215/notifyhub/internal/namespace"
	"github.com/nao1215/notifyhub/internal/room"
	"github.com/nao1215/notifyhub/internal/test/fakes"
	"github.com/nao1215/notifyhub/pkg/event"
)

// setupHub はテスト用のHubと記録用Emitterを生成する。
func setupHub(t *testing.T) (*Hub, *fakes.Emitter, *namespace.Registry) {
	t.Helper()
	registry := namespace.NewRegistry()
	emitter := &fakes.Emitter{}
	engine := counter.NewEngine(emitter, zerolog.Nop())
	return New(registry, engine, zerolog.Nop()), emitter, registry
}

// mustConnect はセッションを接続するヘルパー関数。
func mustConnect(t *testing.T, h *Hub, sessionID, appID, clientID, deviceID string) *Session {
	t.Helper()
	sess, err := h.Connect(context.Background(), ConnectParams{
		SessionID:   sessionID,
		NamespaceID: appID,
		ClientID:    clientID,
		DeviceID:    deviceID,
	})
	if err != nil {
		t.Fatalf("Connect()でエラーが発生: %v", err)
	}
	return sess
}

// countsTo はカウントルームへ配信された件数の列を返す。
func countsTo(e *fakes.Emitter, appID, topic string) []int {
	var counts []int
	for _, em := range e.To(appID, room.CountKey(topic)) {
		counts = append(counts, em.Payload.(event.CountUpdate).Count)
	}
	return counts
}

// TestConnect は接続時の状態とルーム参加を検証する。
func TestConnect(t *testing.T) {
	t.Parallel()

	t.Run("アイデンティティルームに参加しActiveになること", func(t *testing.T) {
		t.Parallel()
		h, emitter, registry := setupHub(t)

		sess := mustConnect(t, h, "s1", "app-a", "user-1", "device-1")

		if sess.State() != StateActive {
			t.Errorf("State() = %v, want active", sess.State())
		}
		ns, _ := registry.Get("app-a")
		want := []room.Membership{
			{Key: "device-1", Kinds: room.KindsOf(room.KindIdentity)},
			{Key: "s1", Kinds: room.KindsOf(room.KindSession)},
			{Key: "user-1", Kinds: room.KindsOf(room.KindIdentity)},
		}
		if got := ns.Rooms().RoomsOf("s1"); !slices.Equal(got, want) {
			t.Errorf("RoomsOf() = %+v, want %+v", got, want)
		}
		if ns.SessionCount() != 1 {
			t.Errorf("SessionCount() = %d, want 1", ns.SessionCount())
		}
		if got := emitter.Emissions(); len(got) != 0 {
			t.Errorf("接続時に配信された: %+v", got)
		}
	})

	t.Run("IDを指定しなければアイデンティティルームに参加しないこと", func(t *testing.T) {
		t.Parallel()
		h, _, registry := setupHub(t)

		mustConnect(t, h, "s1", "app-a", "", "")

		ns, _ := registry.Get("app-a")
		if got := ns.Rooms().Keys(); !slices.Equal(got, []string{"s1"}) {
			t.Errorf("Keys() = %v, want [s1]", got)
		}
	})

	t.Run("不正な接続パラメータはエラーになること", func(t *testing.T) {
		t.Parallel()
		h, _, _ := setupHub(t)
		ctx := context.Background()

		if _, err := h.Connect(ctx, ConnectParams{NamespaceID: "app-a"}); !errors.Is(err, ErrEmptySessionID) {
			t.Errorf("err = %v, want ErrEmptySessionID", err)
		}
		if _, err := h.Connect(ctx, ConnectParams{SessionID: "s1"}); !errors.Is(err, ErrEmptyNamespace) {
			t.Errorf("err = %v, want ErrEmptyNamespace", err)
		}
		mustConnect(t, h, "s1", "app-a", "", "")
		if _, err := h.Connect(ctx, ConnectParams{SessionID: "s1", NamespaceID: "app-a"}); !errors.Is(err, ErrDuplicateSession) {
			t.Errorf("err = %v, want ErrDuplicateSession", err)
		}
	})
}

// TestSubscribeBroadcastsCount はk番目の参加で件数kが配信されることを検証する。
func TestSubscribeBroadcastsCount(t *testing.T) {
	t.Parallel()

	h, emitter, _ := setupHub(t)
	ctx := context.Background()

	mustConnect(t, h, "watcher", "app-a", "", "")
	h.SubscribeCount(ctx, "watcher", []any{"match:1"})
	if got := emitter.Emissions(); len(got) != 0 {
		t.Fatalf("subscribeCountで配信された: %+v", got)
	}

	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("s%d", i)
		mustConnect(t, h, id, "app-a", "", "")
		h.Subscribe(ctx, id, []any{"match:1"})
	}

	want := []int{1, 2, 3, 4, 5}
	if got := countsTo(emitter, "app-a", "match:1"); !slices.Equal(got, want) {
		t.Errorf("配信された件数 = %v, want %v", got, want)
	}
}

// TestSubscribeWithoutCountSubscriber はカウント購読者がいなければ配信されないことを検証する。
func TestSubscribeWithoutCountSubscriber(t *testing.T) {
	t.Parallel()

	h, emitter, _ := setupHub(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("s%d", i)
		mustConnect(t, h, id, "app-a", "", "")
		h.Subscribe(ctx, id, []string{"match:1"})
	}
	h.Disconnecting(ctx, "s1")
	h.Disconnected(ctx, "s1")
	h.Disconnected(ctx, "s2")

	if got := emitter.Emissions(); len(got) != 0 {
		t.Errorf("配信された: %+v", got)
	}
}

// TestSubscribeInvalidInput は不正な購読リクエストが無視されることを検証する。
func TestSubscribeInvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		topics any
	}{
		{name: "文字列", topics: "match:1"},
		{name: "nil", topics: nil},
		{name: "数値を含む配列", topics: []any{"match:1", 42}},
		{name: "空文字列を含む配列", topics: []any{"match:1", ""}},
		{name: "オブジェクト", topics: map[string]any{"topic": "match:1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, _, registry := setupHub(t)
			ctx := context.Background()
			mustConnect(t, h, "s1", "app-a", "", "")

			h.Subscribe(ctx, "s1", tt.topics)
			h.SubscribeCount(ctx, "s1", tt.topics)

			ns, _ := registry.Get("app-a")
			if got := ns.Rooms().Keys(); !slices.Equal(got, []string{"s1"}) {
				t.Errorf("Keys() = %v, want [s1]", got)
			}
		})
	}
}

// TestDisconnectBroadcastsCount は切断時の件数配信を検証する。
func TestDisconnectBroadcastsCount(t *testing.T) {
	t.Parallel()

	t.Run("M人中1人の切断でM-1が配信されること", func(t *testing.T) {
		t.Parallel()
		h, emitter, _ := setupHub(t)
		ctx := context.Background()

		mustConnect(t, h, "watcher", "app-a", "", "")
		h.SubscribeCount(ctx, "watcher", []any{"match:1"})
		for i := 1; i <= 4; i++ {
			id := fmt.Sprintf("s%d", i)
			mustConnect(t, h, id, "app-a", "", "")
			h.Subscribe(ctx, id, []any{"match:1"})
		}

		h.Disconnecting(ctx, "s2")
		h.Disconnected(ctx, "s2")

		counts := countsTo(emitter, "app-a", "match:1")
		if got := counts[len(counts)-1]; got != 3 {
			t.Errorf("最後に配信された件数 = %d, want 3", got)
		}
	})

	t.Run("最後のメンバーの切断では配信されないこと", func(t *testing.T) {
		t.Parallel()
		h, emitter, _ := setupHub(t)
		ctx := context.Background()

		mustConnect(t, h, "watcher", "app-a", "", "")
		h.SubscribeCount(ctx, "watcher", []any{"match:1"})
		mustConnect(t, h, "s1", "app-a", "", "")
		h.Subscribe(ctx, "s1", []any{"match:1"})

		h.Disconnecting(ctx, "s1")
		h.Disconnected(ctx, "s1")

		if got := countsTo(emitter, "app-a", "match:1"); !slices.Equal(got, []int{1}) {
			t.Errorf("配信された件数 = %v, want [1]", got)
		}
	})

	t.Run("countを含むトピックは切断時に配信されないこと", func(t *testing.T) {
		t.Parallel()
		h, emitter, _ := setupHub(t)
		ctx := context.Background()

		mustConnect(t, h, "watcher", "app-a", "", "")
		h.SubscribeCount(ctx, "watcher", []any{"account:balance"})
		mustConnect(t, h, "s1", "app-a", "", "")
		mustConnect(t, h, "s2", "app-a", "", "")
		h.Subscribe(ctx, "s1", []any{"account:balance"})
		h.Subscribe(ctx, "s2", []any{"account:balance"})

		h.Disconnected(ctx, "s1")

		if got := countsTo(emitter, "app-a", "account:balance"); !slices.Equal(got, []int{1, 2}) {
			t.Errorf("配信された件数 = %v, want [1 2]", got)
		}
	})

	t.Run("トピックと同名のクライアントIDがあっても参加順によらず配信されること", func(t *testing.T) {
		t.Parallel()

		subscribe := func(t *testing.T, h *Hub) {
			t.Helper()
			for i := 1; i <= 3; i++ {
				id := fmt.Sprintf("s%d", i)
				mustConnect(t, h, id, "app-a", "", "")
				h.Subscribe(context.Background(), id, []any{"match:1"})
			}
		}
		tests := []struct {
			name          string
			identityFirst bool
			want          []int
		}{
			{name: "アイデンティティが先", identityFirst: true, want: []int{2, 3, 4, 3}},
			{name: "トピックが先", identityFirst: false, want: []int{1, 2, 3, 3}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()
				h, emitter, _ := setupHub(t)
				ctx := context.Background()

				mustConnect(t, h, "watcher", "app-a", "", "")
				h.SubscribeCount(ctx, "watcher", []any{"match:1"})
				if tt.identityFirst {
					mustConnect(t, h, "s0", "app-a", "match:1", "")
					subscribe(t, h)
				} else {
					subscribe(t, h)
					mustConnect(t, h, "s0", "app-a", "match:1", "")
				}

				h.Disconnecting(ctx, "s1")
				h.Disconnected(ctx, "s1")

				if got := countsTo(emitter, "app-a", "match:1"); !slices.Equal(got, tt.want) {
					t.Errorf("配信された件数 = %v, want %v", got, tt.want)
				}
			})
		}
	})

	t.Run("切断後はセッションとメンバーシップが残らないこと", func(t *testing.T) {
		t.Parallel()
		h, _, registry := setupHub(t)
		ctx := context.Background()

		mustConnect(t, h, "s1", "app-a", "user-1", "")
		h.Subscribe(ctx, "s1", []any{"match:1"})
		h.SubscribeCount(ctx, "s1", []any{"match:1"})

		h.Disconnecting(ctx, "s1")
		h.Disconnected(ctx, "s1")

		ns, _ := registry.Get("app-a")
		if got := ns.Rooms().Keys(); len(got) != 0 {
			t.Errorf("Keys() = %v, want empty", got)
		}
		if ns.SessionCount() != 0 || h.SessionCount() != 0 {
			t.Errorf("セッションが残っている: ns=%d, hub=%d", ns.SessionCount(), h.SessionCount())
		}
		if _, ok := h.Session("s1"); ok {
			t.Error("Session()が切断済みセッションを返した")
		}
	})
}

// TestSessionStateMachine は状態遷移を検証する。
func TestSessionStateMachine(t *testing.T) {
	t.Parallel()

	t.Run("Disconnecting中の購読は無視されること", func(t *testing.T) {
		t.Parallel()
		h, _, registry := setupHub(t)
		ctx := context.Background()
		sess := mustConnect(t, h, "s1", "app-a", "", "")

		h.Disconnecting(ctx, "s1")
		if sess.State() != StateDisconnecting {
			t.Fatalf("State() = %v, want disconnecting", sess.State())
		}
		h.Subscribe(ctx, "s1", []any{"match:1"})

		ns, _ := registry.Get("app-a")
		if got := ns.Rooms().Size("match:1"); got != 0 {
			t.Errorf("Size() = %d, want 0", got)
		}

		h.Disconnected(ctx, "s1")
		if sess.State() != StateClosed {
			t.Errorf("State() = %v, want closed", sess.State())
		}
	})

	t.Run("二重のDisconnectingは無視されること", func(t *testing.T) {
		t.Parallel()
		h, _, _ := setupHub(t)
		ctx := context.Background()
		sess := mustConnect(t, h, "s1", "app-a", "", "")

		h.Disconnecting(ctx, "s1")
		h.Disconnecting(ctx, "s1")
		if sess.State() != StateDisconnecting {
			t.Errorf("State() = %v, want disconnecting", sess.State())
		}
	})

	t.Run("不正な遷移はErrInvalidTransitionになること", func(t *testing.T) {
		t.Parallel()
		sess := newSession("s1", nil, "", "")

		if err := sess.transition(StateActive); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("未知のセッションへのイベントは無視されること", func(t *testing.T) {
		t.Parallel()
		h, emitter, _ := setupHub(t)
		ctx := context.Background()

		h.Subscribe(ctx, "ghost", []any{"match:1"})
		h.SubscribeCount(ctx, "ghost", []any{"match:1"})
		h.Disconnecting(ctx, "ghost")
		h.Disconnected(ctx, "ghost")

		if got := emitter.Emissions(); len(got) != 0 {
			t.Errorf("配信された: %+v", got)
		}
	})
}

// TestNamespaceCountIsolation は異なるアプリケーションの同名トピックが分離されることを検証する。
func TestNamespaceCountIsolation(t *testing.T) {
	t.Parallel()

	h, emitter, _ := setupHub(t)
	ctx := context.Background()

	mustConnect(t, h, "watcher-a", "app-a", "", "")
	h.SubscribeCount(ctx, "watcher-a", []any{"match:1"})
	mustConnect(t, h, "s-b", "app-b", "", "")
	h.Subscribe(ctx, "s-b", []any{"match:1"})

	if got := emitter.Emissions(); len(got) != 0 {
		t.Errorf("別アプリケーションの参加で配信された: %+v", got)
	}
}

// TestStateString は状態名の文字列表現を検証する。
func TestStateString(t *testing.T) {
	t.Parallel()

	if got := StateDisconnecting.String(); got != "disconnecting" {
		t.Errorf("String() = %q", got)
	}
	if got := State(9).String(); got != "unknown(9)" {
		t.Errorf("String() = %q", got)
	}
}
