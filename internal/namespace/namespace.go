package namespace

import (
	"sort"
	"sync"

	"github.com/nao1215/notifyhub/internal/room"
)

// Namespace は1つのアプリケーションに属するルームとセッションを保持する。
type Namespace struct {
	// id はアプリケーションID。
	id string
	// rooms はこのネームスペース専用のルームストア。
	rooms *room.Store

	mu       sync.RWMutex
	sessions map[string]struct{}
}

// Stats はネームスペースの状態のスナップショット。
type Stats struct {
	// AppID はアプリケーションID。
	AppID string `json:"appId"`
	// ConnectedSessions は接続中のセッション数。
	ConnectedSessions int `json:"connectedSessions"`
	// Rooms は存在するルームキーの一覧。
	Rooms []string `json:"rooms"`
}

func newNamespace(id string) *Namespace {
	return &Namespace{
		id:       id,
		rooms:    room.NewStore(),
		sessions: make(map[string]struct{}),
	}
}

// ID はアプリケーションIDを返す。
func (n *Namespace) ID() string { return n.id }

// Rooms はルームストアを返す。
func (n *Namespace) Rooms() *room.Store { return n.rooms }

// Attach はセッションをネームスペースに登録する。既に登録済みなら false を返す。
func (n *Namespace) Attach(sessionID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.sessions[sessionID]; ok {
		return false
	}
	n.sessions[sessionID] = struct{}{}
	return true
}

// Detach はセッションの登録を解除する。
func (n *Namespace) Detach(sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.sessions, sessionID)
}

// SessionCount は接続中のセッション数を返す。
func (n *Namespace) SessionCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.sessions)
}

// Stats は接続数とルームキー一覧を返す。
func (n *Namespace) Stats() Stats {
	return Stats{
		AppID:             n.id,
		ConnectedSessions: n.SessionCount(),
		Rooms:             n.rooms.Keys(),
	}
}

// Registry はアプリケーションIDからNamespaceへの対応を管理する。
type Registry struct {
	mu         sync.RWMutex
	namespaces map[string]*Namespace
}

// NewRegistry は空のレジストリを生成する。
func NewRegistry() *Registry {
	return &Registry{namespaces: make(map[string]*Namespace)}
}

// GetOrCreate はアプリケーションIDに対応するNamespaceを返す。存在しなければ作成する。
func (r *Registry) GetOrCreate(appID string) *Namespace {
	r.mu.RLock()
	ns, ok := r.namespaces[appID]
	r.mu.RUnlock()
	if ok {
		return ns
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ns, ok := r.namespaces[appID]; ok {
		return ns
	}
	ns = newNamespace(appID)
	r.namespaces[appID] = ns
	return ns
}

// Get は作成せずにNamespaceを取得する。
func (r *Registry) Get(appID string) (*Namespace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.namespaces[appID]
	return ns, ok
}

// IDs は登録済みのアプリケーションIDをソート済みで返す。
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.namespaces))
	for id := range r.namespaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
