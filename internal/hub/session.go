package hub

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nao1215/notifyhub/internal/namespace"
)

// State はセッションの状態を表す。
type State int

const (
	// StateConnecting はハンドシェイク中の状態。
	StateConnecting State = iota
	// StateActive は購読イベントを受け付ける状態。
	StateActive
	// StateDisconnecting は切断処理中でメンバーシップがまだ残っている状態。
	StateDisconnecting
	// StateClosed はすべてのメンバーシップが削除された状態。
	StateClosed
)

// String はログ出力用の状態名を返す。
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ErrInvalidTransition は許可されていない状態遷移を表す。
var ErrInvalidTransition = errors.New("不正な状態遷移")

// transitions は許可される状態遷移の一覧。
var transitions = map[State]State{
	StateConnecting:    StateActive,
	StateActive:        StateDisconnecting,
	StateDisconnecting: StateClosed,
}

// Session は1つのクライアント接続を表す。
type Session struct {
	// id はセッションID。
	id string
	// ns は所属するネームスペース。生存期間中は変わらない。
	ns *namespace.Namespace
	// clientID はクライアントID（空なら未指定）。
	clientID string
	// deviceID はデバイスID（空なら未指定）。
	deviceID string

	mu    sync.Mutex
	state State
}

func newSession(id string, ns *namespace.Namespace, clientID, deviceID string) *Session {
	return &Session{
		id:       id,
		ns:       ns,
		clientID: clientID,
		deviceID: deviceID,
		state:    StateConnecting,
	}
}

// ID はセッションIDを返す。
func (s *Session) ID() string { return s.id }

// Namespace は所属するネームスペースを返す。
func (s *Session) Namespace() *namespace.Namespace { return s.ns }

// ClientID はクライアントIDを返す。
func (s *Session) ClientID() string { return s.clientID }

// DeviceID はデバイスIDを返す。
func (s *Session) DeviceID() string { return s.deviceID }

// State は現在の状態を返す。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition は from から次の状態へ遷移させる。
func (s *Session) transition(from State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("%w: %s から遷移できません (現在: %s)", ErrInvalidTransition, from, s.state)
	}
	s.state = transitions[from]
	return nil
}
