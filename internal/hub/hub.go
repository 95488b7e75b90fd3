package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nao1215/notifyhub/internal/counter"
	"github.com/nao1215/notifyhub/internal/namespace"
	"github.com/nao1215/notifyhub/internal/room"
)

var (
	// ErrEmptySessionID はセッションIDが空であることを表す。
	ErrEmptySessionID = errors.New("セッションIDが空です")
	// ErrEmptyNamespace はネームスペースIDが空であることを表す。
	ErrEmptyNamespace = errors.New("ネームスペースIDが空です")
	// ErrDuplicateSession は同じセッションIDが既に接続済みであることを表す。
	ErrDuplicateSession = errors.New("セッションIDが重複しています")
)

// ConnectParams は接続確立時にトランスポートから渡される情報。
type ConnectParams struct {
	// SessionID はトランスポートが採番したセッションID。
	SessionID string
	// NamespaceID はアプリケーションID。
	NamespaceID string
	// ClientID はクライアントID。空なら参加しない。
	ClientID string
	// DeviceID はデバイスID。空なら参加しない。
	DeviceID string
}

// Hub はすべての接続セッションを管理する。
type Hub struct {
	registry *namespace.Registry
	counter  *counter.Engine
	logger   zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New は新しいHubを生成する。
func New(registry *namespace.Registry, engine *counter.Engine, logger zerolog.Logger) *Hub {
	return &Hub{
		registry: registry,
		counter:  engine,
		logger:   logger.With().Str("component", "hub").Logger(),
		sessions: make(map[string]*Session),
	}
}

// Connect はセッションを生成してActive状態にする。
// 自身のセッションルームと、指定があればクライアントID・デバイスIDのルームに参加する。
// アイデンティティルームは件数配信の対象外のため、この参加では配信しない。
func (h *Hub) Connect(_ context.Context, p ConnectParams) (*Session, error) {
	if p.SessionID == "" {
		return nil, ErrEmptySessionID
	}
	if p.NamespaceID == "" {
		return nil, ErrEmptyNamespace
	}

	ns := h.registry.GetOrCreate(p.NamespaceID)
	sess := newSession(p.SessionID, ns, p.ClientID, p.DeviceID)

	h.mu.Lock()
	if _, exists := h.sessions[p.SessionID]; exists {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, p.SessionID)
	}
	h.sessions[p.SessionID] = sess
	h.mu.Unlock()

	ns.Attach(sess.id)
	rooms := ns.Rooms()
	rooms.Join(sess.id, sess.id, room.KindSession)
	if sess.clientID != "" {
		rooms.Join(sess.id, sess.clientID, room.KindIdentity)
	}
	if sess.deviceID != "" {
		rooms.Join(sess.id, sess.deviceID, room.KindIdentity)
	}

	if err := sess.transition(StateConnecting); err != nil {
		return nil, err
	}

	h.logger.Info().
		Str("namespace", ns.ID()).
		Str("session", sess.id).
		Str("client", sess.clientID).
		Str("device", sess.deviceID).
		Msg("セッションを開始しました")
	return sess, nil
}

// Subscribe はトピックルームに参加し、参加ごとに購読者数の配信を試みる。
// topics が空でない文字列のリストでない場合は、リクエスト全体を警告ログだけ出して無視する。
func (h *Hub) Subscribe(ctx context.Context, sessionID string, topics any) {
	sess := h.active(sessionID, "subscribe")
	if sess == nil {
		return
	}
	keys, ok := topicList(topics)
	if !ok {
		h.logger.Warn().
			Str("session", sessionID).
			Type("topics", topics).
			Msg("subscribe: topicsが文字列の配列ではないため無視します")
		return
	}

	ns := sess.ns
	for _, key := range keys {
		ns.Rooms().Join(sess.id, key, room.KindTopic)
		h.counter.OnJoin(ctx, ns, key)
	}
	h.logger.Debug().Str("session", sessionID).Strs("topics", keys).Msg("トピックを購読しました")
}

// SubscribeCount は各トピックのカウントルームに参加する。この操作自体は配信を行わない。
// 配列以外の入力は subscribe と同様に警告ログを出して無視する。
func (h *Hub) SubscribeCount(_ context.Context, sessionID string, topics any) {
	sess := h.active(sessionID, "subscribeCount")
	if sess == nil {
		return
	}
	keys, ok := topicList(topics)
	if !ok {
		h.logger.Warn().
			Str("session", sessionID).
			Type("topics", topics).
			Msg("subscribeCount: topicsが文字列の配列ではないため無視します")
		return
	}

	for _, key := range keys {
		sess.ns.Rooms().Join(sess.id, room.CountKey(key), room.KindCount)
	}
	h.logger.Debug().Str("session", sessionID).Strs("topics", keys).Msg("購読者数の通知を購読しました")
}

// Disconnecting はメンバーシップ削除の前に一度だけ呼ばれる。
// 以降の購読イベントは無視される。
func (h *Hub) Disconnecting(_ context.Context, sessionID string) {
	sess := h.lookup(sessionID)
	if sess == nil {
		h.logger.Debug().Str("session", sessionID).Msg("disconnecting: 未知のセッション")
		return
	}
	if err := sess.transition(StateActive); err != nil {
		h.logger.Debug().Err(err).Str("session", sessionID).Msg("disconnecting: 遷移をスキップしました")
	}
}

// Disconnected はセッションのメンバーシップをすべて削除し、セッションを破棄する。
// 削除は退出前のメンバー数と同時に一括で行い、その後トピックルームごとに退出フックを呼ぶ。
// Disconnecting を経ずに呼ばれた場合は先に Disconnecting を実行する。
func (h *Hub) Disconnected(ctx context.Context, sessionID string) {
	sess := h.lookup(sessionID)
	if sess == nil {
		h.logger.Debug().Str("session", sessionID).Msg("disconnected: 未知のセッション")
		return
	}
	if sess.State() == StateActive {
		h.Disconnecting(ctx, sessionID)
	}
	if err := sess.transition(StateDisconnecting); err != nil {
		h.logger.Warn().Err(err).Str("session", sessionID).Msg("disconnected: 遷移に失敗しました")
		return
	}

	ns := sess.ns
	for _, d := range ns.Rooms().LeaveAll(sess.id) {
		if d.Key == sess.id {
			continue
		}
		h.counter.OnLeave(ctx, ns, d)
	}
	ns.Detach(sess.id)

	h.mu.Lock()
	delete(h.sessions, sess.id)
	h.mu.Unlock()

	h.logger.Info().Str("namespace", ns.ID()).Str("session", sess.id).Msg("セッションを終了しました")
}

// Session はセッションIDからセッションを取得する。
func (h *Hub) Session(sessionID string) (*Session, bool) {
	sess := h.lookup(sessionID)
	return sess, sess != nil
}

// SessionCount は管理中のセッション数を返す。
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) lookup(sessionID string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[sessionID]
}

// active はActive状態のセッションを返す。それ以外の場合はログを出してnilを返す。
func (h *Hub) active(sessionID, action string) *Session {
	sess := h.lookup(sessionID)
	if sess == nil {
		h.logger.Debug().Str("session", sessionID).Str("action", action).Msg("未知のセッションからのイベントを無視します")
		return nil
	}
	if state := sess.State(); state != StateActive {
		h.logger.Debug().
			Str("session", sessionID).
			Str("action", action).
			Stringer("state", state).
			Msg("Active以外のセッションからのイベントを無視します")
		return nil
	}
	return sess
}

// topicList は購読リクエストの入力を空でない文字列のスライスに変換する。
func topicList(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		for _, s := range t {
			if s == "" {
				return nil, false
			}
		}
		return append([]string(nil), t...), true
	case []any:
		keys := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, false
			}
			keys = append(keys, s)
		}
		return keys, true
	default:
		return nil, false
	}
}
