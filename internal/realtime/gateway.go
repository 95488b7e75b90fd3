package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nao1215/notifyhub/internal/delivery"
	"github.com/nao1215/notifyhub/internal/hub"
	"github.com/nao1215/notifyhub/pkg/event"
)

const (
	// HeaderClientID はクライアントIDを渡すヘッダー。
	HeaderClientID = "X-Client-Id"
	// HeaderDeviceID はデバイスIDを渡すヘッダー。
	HeaderDeviceID = "X-Device-Id"
	// maxAppIDLength はアプリケーションIDの最大長。
	maxAppIDLength = 100
)

// Config はWebSocket接続の設定。
type Config struct {
	// ReadBufferSize は読み込みバッファのサイズ。
	ReadBufferSize int
	// WriteBufferSize は書き込みバッファのサイズ。
	WriteBufferSize int
	// SendQueueSize は接続ごとの送信キューの長さ。
	SendQueueSize int
	// MaxMessageSize は受信メッセージの最大サイズ。
	MaxMessageSize int64
	// WriteWait は1回の書き込みのタイムアウト。
	WriteWait time.Duration
	// PongWait はpongを待つ時間。これを過ぎると切断する。
	PongWait time.Duration
	// PingInterval はpingの送信間隔。PongWaitより短くする。
	PingInterval time.Duration
	// AllowedOrigins は接続を許可するOrigin。空ならすべて許可する。
	AllowedOrigins []string
}

// DefaultConfig は既定の設定を返す。
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendQueueSize:   64,
		MaxMessageSize:  64 * 1024,
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingInterval:    54 * time.Second,
	}
}

// handlerFunc は受信イベント1種類分の処理。
type handlerFunc func(ctx context.Context, c *client, f *event.Frame)

// Gateway はWebSocket接続を受け付けてHubとLocalエミッターに結び付ける。
type Gateway struct {
	hub      *hub.Hub
	local    *delivery.Local
	cfg      Config
	upgrader websocket.Upgrader
	handlers map[string]handlerFunc
	logger   zerolog.Logger

	// clients は接続中のクライアント。シャットダウン時に閉じるために保持する。
	clients sync.Map
}

// NewGateway は新しいGatewayを生成する。
func NewGateway(h *hub.Hub, local *delivery.Local, cfg Config, logger zerolog.Logger) *Gateway {
	g := &Gateway{
		hub:    h,
		local:  local,
		cfg:    cfg,
		logger: logger.With().Str("component", "realtime").Logger(),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	g.handlers = map[string]handlerFunc{
		event.NameSubscribe:      g.handleSubscribe,
		event.NameSubscribeCount: g.handleSubscribeCount,
	}
	return g
}

// Handler は /ws/:appId 用のGinハンドラを返す。
func (g *Gateway) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		appID := c.Param("appId")
		if appID == "" || utf8.RuneCountInString(appID) > maxAppIDLength {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid appId"})
			return
		}
		clientID := headerOrQuery(c, HeaderClientID, "clientId")
		deviceID := headerOrQuery(c, HeaderDeviceID, "deviceId")

		conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade がエラーレスポンスを書き込み済み
			g.logger.Warn().Err(err).Str("namespace", appID).Msg("WebSocketへのアップグレードに失敗")
			return
		}
		g.serve(context.WithoutCancel(c.Request.Context()), conn, appID, clientID, deviceID)
	}
}

// serve は1接続のライフサイクルを処理する。接続が切れるまで戻らない。
func (g *Gateway) serve(ctx context.Context, conn *websocket.Conn, appID, clientID, deviceID string) {
	defer func() {
		if err := conn.Close(); err != nil {
			g.logger.Debug().Err(err).Msg("接続のクローズに失敗")
		}
	}()

	cl := newClient(uuid.NewString(), conn, g.cfg.SendQueueSize)
	g.clients.Store(cl.id, cl)
	defer g.clients.Delete(cl.id)
	g.local.Register(cl.id, cl)

	if _, err := g.hub.Connect(ctx, hub.ConnectParams{
		SessionID:   cl.id,
		NamespaceID: appID,
		ClientID:    clientID,
		DeviceID:    deviceID,
	}); err != nil {
		g.local.Unregister(cl.id)
		g.logger.Error().Err(err).Str("namespace", appID).Msg("セッションの開始に失敗")
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := cl.writePump(g.cfg.WriteWait, g.cfg.PingInterval); err != nil {
			g.logger.Debug().Err(err).Str("session", cl.id).Msg("書き込みを終了しました")
			// 読み込みループを止めるため接続を閉じる
			_ = conn.Close()
		}
	}()

	g.readLoop(ctx, cl)

	g.hub.Disconnecting(ctx, cl.id)
	g.local.Unregister(cl.id)
	g.hub.Disconnected(ctx, cl.id)
	cl.close()
	<-writerDone
}

// CloseAll はすべての接続にクローズフレームを送り、読み込みを打ち切る。
// http.Server.RegisterOnShutdown に登録して使う。
func (g *Gateway) CloseAll() {
	g.clients.Range(func(_, v any) bool {
		cl := v.(*client)
		cl.close()
		// 相手がクローズに応答しなくても読み込みループを終わらせる
		_ = cl.conn.SetReadDeadline(time.Now().Add(g.cfg.WriteWait))
		return true
	})
}

// ConnectionCount は接続中のクライアント数を返す。
func (g *Gateway) ConnectionCount() int {
	n := 0
	g.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// readLoop は受信フレームを順番に処理する。読み込みエラーで戻る。
func (g *Gateway) readLoop(ctx context.Context, cl *client) {
	conn := cl.conn
	conn.SetReadLimit(g.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug().Err(err).Str("session", cl.id).Msg("接続が予期せず切断されました")
			}
			return
		}

		f, err := event.Decode(msg)
		if err != nil {
			g.logger.Warn().Err(err).Str("session", cl.id).Msg("不正なフレームを無視します")
			continue
		}
		h, ok := g.handlers[f.Event]
		if !ok {
			g.logger.Debug().Str("session", cl.id).Str("event", f.Event).Msg("未対応のイベントを無視します")
			continue
		}
		h(ctx, cl, f)
	}
}

func (g *Gateway) handleSubscribe(ctx context.Context, c *client, f *event.Frame) {
	g.hub.Subscribe(ctx, c.id, frameData(f))
}

func (g *Gateway) handleSubscribeCount(ctx context.Context, c *client, f *event.Frame) {
	g.hub.SubscribeCount(ctx, c.id, frameData(f))
}

// frameData はイベントデータを型を決めずにデコードする。
// 入力の検証は hub 側で行うため、データがないか不正なJSONの場合は nil を返す。
func frameData(f *event.Frame) any {
	v, err := event.DecodeData[any](f)
	if err != nil {
		return nil
	}
	return *v
}

func headerOrQuery(c *gin.Context, header, query string) string {
	if v := c.GetHeader(header); v != "" {
		return v
	}
	return c.Query(query)
}

// originChecker は許可されたOriginだけを通すCheckOrigin関数を返す。
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
