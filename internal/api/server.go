package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nao1215/notifyhub/internal/namespace"
	"github.com/nao1215/notifyhub/internal/notify"
	"github.com/nao1215/notifyhub/pkg/middleware"
)

// Notifier は通知リクエストを配信する。notify.Router が実装する。
type Notifier interface {
	Deliver(ctx context.Context, req notify.Request) (*notify.Result, error)
	DeliverBatch(ctx context.Context, reqs []notify.Request) notify.BatchResult
}

// Options はサーバーの任意設定。
type Options struct {
	// JWTSecret が空でなければ通知APIと統計APIにJWT認証を要求する。
	JWTSecret string
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// WebSocket はクライアント接続用のハンドラ。nilなら /ws を公開しない。
	WebSocket gin.HandlerFunc
}

// Server はnotifyhubのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// registry は統計の参照に使うネームスペースレジストリ。
	registry *namespace.Registry
	// notifier は通知の配信を行う。
	notifier Notifier
	logger   zerolog.Logger
	opts     Options
}

// NewServer は新しいHTTPサーバーを生成する。
func NewServer(registry *namespace.Registry, notifier Notifier, logger zerolog.Logger, opts Options) *Server {
	registerJSONFieldNames()

	logger = logger.With().Str("component", "api").Logger()
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger, "/health"))
	if len(opts.AllowedOrigins) > 0 {
		router.Use(middleware.CORS(opts.AllowedOrigins))
	}

	s := &Server{
		router:   router,
		registry: registry,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
	}
	s.setupRoutes()
	return s
}

// Handler はhttp.Serverに渡すハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	trigger := s.router.Group("")
	if s.opts.JWTSecret != "" {
		trigger.Use(middleware.JWTAuth(s.opts.JWTSecret))
	}
	{
		// 通知送信
		trigger.POST("/notify", s.handleNotify())
		// 一括通知送信
		trigger.POST("/batch-notify", s.handleBatchNotify())
		// ネームスペースの状態
		trigger.GET("/stats/:appId", s.handleStats())
	}

	// クライアント接続
	if s.opts.WebSocket != nil {
		s.router.GET("/ws/:appId", s.opts.WebSocket)
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notifyhub"})
	})
}
