package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// Issuer はnotifyhubが発行するトークンの発行者名。
	Issuer = "notifyhub"
	// contextKeyService は呼び出し元サービス名を格納するコンテキストキー。
	contextKeyService = "service"
)

// ErrEmptyService はサービス名が空のままトークンを生成しようとしたことを表す。
var ErrEmptyService = errors.New("サービス名が空です")

// JWTClaims は通知トリガー用トークンのクレーム。
// 通知を送るバックエンドサービスを識別する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// Service は通知を送る呼び出し元サービスの名前。
	Service string `json:"service"`
}

// GenerateJWT は呼び出し元サービス用のトークンを生成する。
// notifyctl や連携サービスの設定用に使う。
func GenerateJWT(secret, service string, ttl time.Duration) (string, error) {
	if service == "" {
		return "", ErrEmptyService
	}
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   service,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
		Service: service,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに呼び出し元サービス名を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header is required",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid bearer token format",
			})
			return
		}

		claims := &JWTClaims{}
		keyFunc := func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		}
		token, err := jwt.ParseWithClaims(
			tokenString,
			claims,
			keyFunc,
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(Issuer),
		)
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
			})
			return
		}

		c.Set(contextKeyService, claims.Service)
		c.Next()
	}
}

// GetService はGinコンテキストから呼び出し元サービス名を取得する。
// JWTAuthミドルウェアが適用されていない場合は空文字列を返す。
func GetService(c *gin.Context) string {
	v, _ := c.Get(contextKeyService)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
