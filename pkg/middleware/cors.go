package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSConfig はCORSミドルウェアの設定。
type CORSConfig struct {
	// AllowOrigins は許可するオリジンの一覧。"*" を含む場合はすべて許可する。
	AllowOrigins []string
	// AllowMethods は許可するHTTPメソッド。
	AllowMethods []string
	// AllowHeaders は許可するリクエストヘッダー。
	AllowHeaders []string
	// MaxAge はプリフライト結果のキャッシュ秒数。
	MaxAge int
	// HandlePreflight がtrueの場合、OPTIONSリクエストを204で中断する。
	HandlePreflight bool
}

// PermissiveCORSConfig はすべてのオリジン・ヘッダーを許可する設定を返す。
func PermissiveCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:    []string{"*"},
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:    []string{"*"},
		MaxAge:          3600,
		HandlePreflight: true,
	}
}

// CORS は設定に従ってクロスオリジンリクエストを許可するGinミドルウェアを返す。
func CORS(cfg CORSConfig) gin.HandlerFunc {
	originsSet := make(map[string]struct{}, len(cfg.AllowOrigins))
	allowAll := false
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			allowAll = true
		}
		originsSet[o] = struct{}{}
	}
	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")
	maxAge := strconv.Itoa(cfg.MaxAge)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		_, allowed := originsSet[origin]
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case allowed && origin != "":
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		if allowAll || (allowed && origin != "") {
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
			c.Header("Access-Control-Max-Age", maxAge)
		}

		if cfg.HandlePreflight && c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
