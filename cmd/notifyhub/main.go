// notifyhubサーバーのエントリポイント。
// WebSocketで接続したクライアントに、HTTP APIで受け付けた通知をリアルタイムに配信する。
// Redisを設定した場合は複数ノード間で配信を中継する。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/notifyhub/internal/api"
	"github.com/nao1215/notifyhub/internal/bus"
	"github.com/nao1215/notifyhub/internal/config"
	"github.com/nao1215/notifyhub/internal/counter"
	"github.com/nao1215/notifyhub/internal/delivery"
	"github.com/nao1215/notifyhub/internal/hub"
	"github.com/nao1215/notifyhub/internal/logging"
	"github.com/nao1215/notifyhub/internal/namespace"
	"github.com/nao1215/notifyhub/internal/notify"
	"github.com/nao1215/notifyhub/internal/realtime"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", os.Getenv("NOTIFYHUB_CONFIG"), "YAML設定ファイルのパス")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定の読み込みに失敗: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error().Err(err).Msg("notifyhubが異常終了しました")
		os.Exit(1)
	}
	logger.Info().Msg("notifyhubを停止しました")
}

// run は各コンポーネントを組み立て、ctx がキャンセルされるまでサーバーを動かす。
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	registry := namespace.NewRegistry()
	local := delivery.NewLocal(registry, logger)

	g, ctx := errgroup.WithContext(ctx)

	var emitter delivery.Emitter = local
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("Redis接続のクローズに失敗")
			}
		}()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis(%s)への接続に失敗: %w", cfg.Redis.Addr, err)
		}

		redisBus, err := bus.NewRedisBus(rdb, local, cfg.Redis.Channel, logger)
		if err != nil {
			return err
		}
		logger.Info().
			Str("addr", cfg.Redis.Addr).
			Str("channel", cfg.Redis.Channel).
			Str("node", redisBus.NodeID()).
			Msg("Redisによるノード間配信を有効にしました")
		emitter = redisBus
		g.Go(func() error { return redisBus.Run(ctx) })
	}

	h := hub.New(registry, counter.NewEngine(emitter, logger), logger)
	gateway := realtime.NewGateway(h, local, realtime.Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendQueueSize:   cfg.WebSocket.SendQueueSize,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		WriteWait:       cfg.WebSocket.WriteWait,
		PongWait:        cfg.WebSocket.PongWait,
		PingInterval:    cfg.WebSocket.PingInterval,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
	}, logger)

	server := api.NewServer(registry, notify.NewRouter(registry, emitter, logger), logger, api.Options{
		JWTSecret:      cfg.Auth.JWTSecret,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		WebSocket:      gateway.Handler(),
	})
	if cfg.Auth.JWTSecret == "" {
		logger.Warn().Msg("NOTIFY_JWT_SECRETが未設定のため通知APIは認証なしで公開されます")
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(gateway.CloseAll)

	g.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("notifyhubを起動します")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("シャットダウンします")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
		}
		return nil
	})

	return g.Wait()
}
