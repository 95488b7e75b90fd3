// Package config はnotifyhubの設定を読み込む。
//
// 既定値、YAMLファイル、環境変数の順に上書きする。YAML内の ${VAR} は
// 読み込み時に環境変数で展開される。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nao1215/notifyhub/internal/logging"
)

// ErrInvalidConfig は設定値が不正であることを表す。
var ErrInvalidConfig = errors.New("設定が不正です")

// Config はnotifyhub全体の設定。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	CORS      CORSConfig      `yaml:"cors"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	// Port はリッスンポート。
	Port string `yaml:"port"`
	// ShutdownTimeout はシャットダウン時に処理中のリクエストを待つ時間。
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig はログ出力の設定。
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RedisConfig はノード間配信の設定。Addrが空ならRedisを使わない。
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// Enabled はRedisによるノード間配信が有効かを返す。
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// AuthConfig は通知APIの認証設定。JWTSecretが空なら認証しない。
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// CORSConfig はCORSの設定。WebSocketのOrigin検査にも使う。
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig はWebSocket接続の設定。
type WebSocketConfig struct {
	SendQueueSize  int           `yaml:"send_queue_size"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	WriteWait      time.Duration `yaml:"write_wait"`
	PongWait       time.Duration `yaml:"pong_wait"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

// Default は既定値の設定を返す。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatJSON,
		},
		Redis: RedisConfig{
			Channel: "notifyhub:emit",
		},
		WebSocket: WebSocketConfig{
			SendQueueSize:  64,
			MaxMessageSize: 64 * 1024,
			WriteWait:      10 * time.Second,
			PongWait:       60 * time.Second,
			PingInterval:   54 * time.Second,
		},
	}
}

// Load は設定を読み込んで検証する。pathが空ならYAMLファイルを読まない。
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		expanded := os.Expand(string(data), func(key string) string {
			v, _ := lookup(key)
			return v
		})
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルのパースに失敗: %w", err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする。
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	getEnvOr := func(key, defaultValue string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return defaultValue
	}

	c.Server.Port = getEnvOr("PORT", c.Server.Port)
	c.Log.Level = getEnvOr("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvOr("LOG_FORMAT", c.Log.Format)
	c.Redis.Addr = getEnvOr("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnvOr("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.Channel = getEnvOr("REDIS_CHANNEL", c.Redis.Channel)
	c.Auth.JWTSecret = getEnvOr("NOTIFY_JWT_SECRET", c.Auth.JWTSecret)

	if v := getEnvOr("REDIS_DB", ""); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: REDIS_DB が数値ではありません: %q", ErrInvalidConfig, v)
		}
		c.Redis.DB = db
	}
	if v := getEnvOr("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.CORS.AllowedOrigins = splitList(v)
	}
	return nil
}

// Validate は設定値の範囲を検証する。
func (c *Config) Validate() error {
	var errs []error
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("ポート番号が不正です: %q", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout は正の値である必要があります"))
	}
	if !logging.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("ログレベルが不正です: %q", c.Log.Level))
	}
	if !logging.ValidFormat(c.Log.Format) {
		errs = append(errs, fmt.Errorf("ログ形式が不正です: %q", c.Log.Format))
	}
	if c.Redis.Enabled() && c.Redis.Channel == "" {
		errs = append(errs, errors.New("redis.addr を指定した場合は redis.channel が必要です"))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, fmt.Errorf("redis.db が不正です: %d", c.Redis.DB))
	}
	ws := c.WebSocket
	if ws.SendQueueSize < 1 {
		errs = append(errs, errors.New("send_queue_size は1以上である必要があります"))
	}
	if ws.MaxMessageSize < 1 {
		errs = append(errs, errors.New("max_message_size は1以上である必要があります"))
	}
	if ws.WriteWait <= 0 || ws.PongWait <= 0 || ws.PingInterval <= 0 {
		errs = append(errs, errors.New("websocket のタイムアウトは正の値である必要があります"))
	} else if ws.PingInterval >= ws.PongWait {
		errs = append(errs, errors.New("ping_interval は pong_wait より短くする必要があります"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
