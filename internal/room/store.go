package room

import (
	"sort"
	"sync"
)

// Membership は接続が参加しているルームを表す。
type Membership struct {
	// Key はルームキー。
	Key string
	// Kinds はこの接続がルームに参加した種別。
	Kinds KindSet
}

// Departure は接続がルームから抜けた結果を表す。
type Departure struct {
	// Key はルームキー。
	Key string
	// Kinds は退出前にルームに存在した種別。
	Kinds KindSet
	// SizeBefore は退出前のメンバー数。
	SizeBefore int
}

// entry はルーム1件分の状態。
// members は接続ごとの参加種別、byKind は種別ごとの参加接続数を持つ。
type entry struct {
	members map[string]KindSet
	byKind  map[Kind]int
}

func newEntry() *entry {
	return &entry{
		members: make(map[string]KindSet),
		byKind:  make(map[Kind]int),
	}
}

// kinds はルームに現在存在する種別の集合を返す。
func (e *entry) kinds() KindSet {
	var s KindSet
	for k, n := range e.byKind {
		if n > 0 {
			s = s.With(k)
		}
	}
	return s
}

// Store はルームキーから接続IDの集合への対応を保持する。
// 逆引き用に接続IDから参加ルームの集合も保持し、2つのマップを常に同時に更新する。
type Store struct {
	mu     sync.RWMutex
	rooms  map[string]*entry
	byConn map[string]map[string]struct{}
}

// NewStore は空のストアを生成する。
func NewStore() *Store {
	return &Store{
		rooms:  make(map[string]*entry),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join は接続をルームに参加させ、参加後のメンバー数を返す。
// 既に参加済みの場合はメンバー数を変えずに joined=false を返す。
// このとき別の種別での参加であれば、その種別だけを記録に加える。
func (s *Store) Join(connID, key string, kind Kind) (size int, joined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rooms[key]
	if !ok {
		e = newEntry()
		s.rooms[key] = e
	}
	if kinds, exists := e.members[connID]; exists {
		if !kinds.Has(kind) {
			e.members[connID] = kinds.With(kind)
			e.byKind[kind]++
		}
		return len(e.members), false
	}
	e.members[connID] = KindsOf(kind)
	e.byKind[kind]++

	rooms, ok := s.byConn[connID]
	if !ok {
		rooms = make(map[string]struct{})
		s.byConn[connID] = rooms
	}
	rooms[key] = struct{}{}
	return len(e.members), true
}

// Leave は接続をルームから退出させる。空になったルームは削除する。
func (s *Store) Leave(connID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked(connID, key)
}

// LeaveAll は接続のすべてのメンバーシップを削除する。
// 各ルームについて退出前のメンバー数を返す。結果はキー順に並ぶ。
func (s *Store) LeaveAll(connID string) []Departure {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := sortedKeys(s.byConn[connID])
	departures := make([]Departure, 0, len(keys))
	for _, key := range keys {
		e := s.rooms[key]
		if e == nil {
			continue
		}
		departures = append(departures, Departure{
			Key:        key,
			Kinds:      e.kinds(),
			SizeBefore: len(e.members),
		})
		s.leaveLocked(connID, key)
	}
	delete(s.byConn, connID)
	return departures
}

// leaveLocked はロック取得済みの状態で退出処理を行う。
func (s *Store) leaveLocked(connID, key string) {
	if e, ok := s.rooms[key]; ok {
		if kinds, exists := e.members[connID]; exists {
			for k := range e.byKind {
				if kinds.Has(k) {
					e.byKind[k]--
				}
			}
			delete(e.members, connID)
		}
		if len(e.members) == 0 {
			delete(s.rooms, key)
		}
	}
	if rooms, ok := s.byConn[connID]; ok {
		delete(rooms, key)
		if len(rooms) == 0 {
			delete(s.byConn, connID)
		}
	}
}

// Size はルームのメンバー数を返す。存在しないルームは0。
func (s *Store) Size(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.rooms[key]; ok {
		return len(e.members)
	}
	return 0
}

// Members はルームに参加している接続IDをソート済みで返す。
func (s *Store) Members(key string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rooms[key]
	if !ok {
		return nil
	}
	return sortedKeys(e.members)
}

// Kinds はルームに存在する種別の集合を返す。ルームが存在しない場合は ok=false。
func (s *Store) Kinds(key string) (KindSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rooms[key]
	if !ok {
		return 0, false
	}
	return e.kinds(), true
}

// RoomsOf は接続が参加しているルームの一覧をキー順で返す。
func (s *Store) RoomsOf(connID string) []Membership {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := sortedKeys(s.byConn[connID])
	memberships := make([]Membership, 0, len(keys))
	for _, key := range keys {
		if e, ok := s.rooms[key]; ok {
			memberships = append(memberships, Membership{Key: key, Kinds: e.members[connID]})
		}
	}
	return memberships
}

// Keys は存在するルームキーをソート済みで返す。
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.rooms))
	for key := range s.rooms {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeys[V any](set map[string]V) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
