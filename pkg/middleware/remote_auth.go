package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/bookshop/pkg/apperr"
)

// contextKeyUserID はGinコンテキストに認証済みユーザーIDを格納するキー。
const contextKeyUserID = "user_id"

// IdentityResolver はアクセストークンの持ち主を認証サービスに問い合わせる。
type IdentityResolver interface {
	// ResolveUserID はBearerトークンを検証し、ユーザーIDを返す。
	ResolveUserID(ctx context.Context, bearerToken string) (string, error)
}

// RemoteAuth はトークンの検証を認証サービスに委譲するGinミドルウェアを返す。
// 署名鍵を持たないサービスで使用し、検証に成功した場合はコンテキストに "user_id" を設定する。
// resolverがapperr.Errorを返した場合はそのコードで応答し、それ以外は401として扱う。
func RemoteAuth(resolver IdentityResolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			WriteError(c, logger, apperr.New(apperr.CodeUnauthorized, "Authorizationヘッダーが必要です"))
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || tokenString == "" {
			WriteError(c, logger, apperr.New(apperr.CodeUnauthorized, "Bearer トークン形式が不正です"))
			return
		}

		userID, err := resolver.ResolveUserID(c.Request.Context(), tokenString)
		if err != nil {
			if _, ok := apperr.As(err); !ok {
				err = apperr.Wrap(apperr.CodeUnauthorized, "トークンが無効です", err)
			}
			WriteError(c, logger, err)
			return
		}

		c.Set(contextKeyUserID, userID)
		c.Next()
	}
}

// GetUserID はGinコンテキストから認証済みユーザーIDを取得する。
// RemoteAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	return c.GetString(contextKeyUserID)
}
