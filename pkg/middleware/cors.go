package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type, X-Client-Id, X-Device-Id"
	corsMaxAge       = "86400"
	// corsAnyOrigin を許可リストに含めると全オリジンを許可する。
	corsAnyOrigin = "*"
)

// CORS は指定されたオリジンからのクロスオリジンリクエストを許可するGinミドルウェアを返す。
// ブラウザから通知APIや統計APIを呼ぶ管理画面のために使用する。
// 許可リストに "*" を含めると任意のオリジンを許可する。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	anyOrigin := slices.Contains(allowedOrigins, corsAnyOrigin)
	originsSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = struct{}{}
	}

	return func(c *gin.Context) {
		c.Writer.Header().Add("Vary", "Origin")

		origin := c.GetHeader("Origin")
		allowed := false
		if origin != "" {
			_, allowed = originsSet[origin]
			allowed = allowed || anyOrigin
		}
		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", corsAllowMethods)
			c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
			c.Header("Access-Control-Max-Age", corsMaxAge)
		}

		// プリフライトはハンドラまで到達させない
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
