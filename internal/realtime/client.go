package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrSendBufferFull は送信キューが満杯で送信を破棄したことを表す。
	ErrSendBufferFull = errors.New("送信キューが満杯です")
	// ErrClientClosed は接続が既に閉じていることを表す。
	ErrClientClosed = errors.New("接続は閉じています")
)

// client は1つのWebSocket接続。delivery.Sender を実装する。
type client struct {
	// id はセッションID。
	id string
	// conn はWebSocket接続。書き込みは writePump からのみ行う。
	conn *websocket.Conn
	// send は送信待ちのフレーム。
	send chan []byte
	// done は接続終了時に閉じられる。
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn, bufferSize int) *client {
	return &client{
		id:   id,
		conn: conn,
		send: make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
}

// Send はフレームを送信キューに積む。キューが満杯ならブロックせずにエラーを返す。
func (c *client) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

// close は書き込みgoroutineを停止させる。複数回呼んでもよい。
func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump は送信キューのフレームとpingを書き込む。
func (c *client) writePump(writeWait, pingInterval time.Duration) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return nil
		}
	}
}
