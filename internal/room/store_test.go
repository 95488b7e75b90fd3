package room

import (
	"fmt"
	"slices"
	"sync"
	"testing"
)

// TestStoreJoin はJoinの集合セマンティクスを検証する。
func TestStoreJoin(t *testing.T) {
	t.Parallel()

	t.Run("参加後のメンバー数を返すこと", func(t *testing.T) {
		t.Parallel()
		s := NewStore()

		size, joined := s.Join("c1", "match:1", KindTopic)
		if !joined || size != 1 {
			t.Errorf("Join() = (%d, %v), want (1, true)", size, joined)
		}
		size, joined = s.Join("c2", "match:1", KindTopic)
		if !joined || size != 2 {
			t.Errorf("Join() = (%d, %v), want (2, true)", size, joined)
		}
	})

	t.Run("重複参加はメンバー数を増やさないこと", func(t *testing.T) {
		t.Parallel()
		s := NewStore()

		s.Join("c1", "match:1", KindTopic)
		size, joined := s.Join("c1", "match:1", KindTopic)
		if joined {
			t.Error("重複参加でjoined=trueが返った")
		}
		if size != 1 {
			t.Errorf("size = %d, want 1", size)
		}
	})

	t.Run("同じキーへの異なる種別の参加はすべて記録されること", func(t *testing.T) {
		t.Parallel()
		s := NewStore()

		s.Join("c1", "a:count", KindCount)
		s.Join("c2", "a:count", KindTopic)

		kinds, ok := s.Kinds("a:count")
		if !ok || kinds != KindsOf(KindCount, KindTopic) {
			t.Errorf("Kinds() = (%v, %v), want (count|topic, true)", kinds, ok)
		}
	})

	t.Run("同じ接続が別の種別で参加してもメンバー数は増えないこと", func(t *testing.T) {
		t.Parallel()
		s := NewStore()

		s.Join("c1", "match:1", KindIdentity)
		size, joined := s.Join("c1", "match:1", KindTopic)
		if joined || size != 1 {
			t.Errorf("Join() = (%d, %v), want (1, false)", size, joined)
		}
		want := []Membership{{Key: "match:1", Kinds: KindsOf(KindIdentity, KindTopic)}}
		if got := s.RoomsOf("c1"); !slices.Equal(got, want) {
			t.Errorf("RoomsOf() = %+v, want %+v", got, want)
		}
	})

	t.Run("退出した接続の種別は集合から外れること", func(t *testing.T) {
		t.Parallel()
		s := NewStore()

		s.Join("c1", "match:1", KindIdentity)
		s.Join("c2", "match:1", KindTopic)
		s.Leave("c2", "match:1")

		kinds, ok := s.Kinds("match:1")
		if !ok || kinds != KindsOf(KindIdentity) {
			t.Errorf("Kinds() = (%v, %v), want (identity, true)", kinds, ok)
		}
		if _, ok := s.Kinds("missing"); ok {
			t.Error("存在しないルームでok=trueが返った")
		}
	})
}

// TestStoreLeave はLeaveとLeaveAllを検証する。
func TestStoreLeave(t *testing.T) {
	t.Parallel()

	t.Run("空になったルームは削除されること", func(t *testing.T) {
		t.Parallel()
		s := NewStore()

		s.Join("c1", "match:1", KindTopic)
		s.Leave("c1", "match:1")

		if got := s.Size("match:1"); got != 0 {
			t.Errorf("Size() = %d, want 0", got)
		}
		if got := s.Keys(); len(got) != 0 {
			t.Errorf("Keys() = %v, want empty", got)
		}
		if got := s.RoomsOf("c1"); len(got) != 0 {
			t.Errorf("RoomsOf() = %v, want empty", got)
		}
	})

	t.Run("LeaveAllは退出前のメンバー数を返すこと", func(t *testing.T) {
		t.Parallel()
		s := NewStore()

		s.Join("c1", "c1", KindSession)
		s.Join("c1", "user-1", KindIdentity)
		s.Join("c1", "match:1", KindTopic)
		s.Join("c2", "match:1", KindTopic)
		s.Join("c3", "match:1", KindTopic)

		got := s.LeaveAll("c1")
		want := []Departure{
			{Key: "c1", Kinds: KindsOf(KindSession), SizeBefore: 1},
			{Key: "match:1", Kinds: KindsOf(KindTopic), SizeBefore: 3},
			{Key: "user-1", Kinds: KindsOf(KindIdentity), SizeBefore: 1},
		}
		if !slices.Equal(got, want) {
			t.Errorf("LeaveAll() = %+v, want %+v", got, want)
		}
		if size := s.Size("match:1"); size != 2 {
			t.Errorf("Size(match:1) = %d, want 2", size)
		}
		if keys := s.Keys(); !slices.Equal(keys, []string{"match:1"}) {
			t.Errorf("Keys() = %v, want [match:1]", keys)
		}
	})

	t.Run("LeaveAllは参加順によらずトピックの種別を返すこと", func(t *testing.T) {
		t.Parallel()
		s := NewStore()

		s.Join("owner", "match:1", KindIdentity)
		s.Join("c1", "match:1", KindTopic)

		got := s.LeaveAll("c1")
		want := []Departure{{Key: "match:1", Kinds: KindsOf(KindIdentity, KindTopic), SizeBefore: 2}}
		if !slices.Equal(got, want) {
			t.Errorf("LeaveAll() = %+v, want %+v", got, want)
		}
	})

	t.Run("未参加の接続のLeaveAllは空を返すこと", func(t *testing.T) {
		t.Parallel()
		s := NewStore()

		if got := s.LeaveAll("ghost"); len(got) != 0 {
			t.Errorf("LeaveAll() = %v, want empty", got)
		}
	})
}

// TestStoreMembers はメンバー一覧と逆引きを検証する。
func TestStoreMembers(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Join("c2", "match:1", KindTopic)
	s.Join("c1", "match:1", KindTopic)
	s.Join("c1", CountKey("match:1"), KindCount)

	if got := s.Members("match:1"); !slices.Equal(got, []string{"c1", "c2"}) {
		t.Errorf("Members() = %v, want [c1 c2]", got)
	}
	if got := s.Members("missing"); got != nil {
		t.Errorf("Members(missing) = %v, want nil", got)
	}

	want := []Membership{
		{Key: "match:1", Kinds: KindsOf(KindTopic)},
		{Key: "match:1:count", Kinds: KindsOf(KindCount)},
	}
	if got := s.RoomsOf("c1"); !slices.Equal(got, want) {
		t.Errorf("RoomsOf() = %+v, want %+v", got, want)
	}
}

// TestStoreConcurrentJoin は並行参加でメンバー数が失われないことを検証する。
func TestStoreConcurrentJoin(t *testing.T) {
	t.Parallel()

	s := NewStore()
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Go(func() {
			s.Join(fmt.Sprintf("c%d", i), "match:1", KindTopic)
		})
	}
	wg.Wait()

	if got := s.Size("match:1"); got != 100 {
		t.Errorf("Size() = %d, want 100", got)
	}
}
