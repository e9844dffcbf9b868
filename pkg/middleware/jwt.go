package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/bookshop/pkg/apperr"
	"github.com/nao1215/bookshop/pkg/token"
)

// contextKeyEmail はGinコンテキストに認証済みメールアドレスを格納するキー。
const contextKeyEmail = "email"

// TokenVerifier はトークンの検証を行う。
type TokenVerifier interface {
	// Verify は指定種類のトークンを検証してクレームを返す。
	Verify(kind token.Kind, tokenString string) (*token.Claims, error)
}

// BearerAuth はアクセストークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "email" を設定する。
// メール確認・パスワードリセット用トークンはここでは受け付けない。
func BearerAuth(verifier TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
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

		claims, err := verifier.Verify(token.KindAccess, tokenString)
		if err != nil {
			WriteError(c, logger, apperr.Wrap(apperr.CodeUnauthorized, "トークンが無効です", err))
			return
		}
		if claims.Email() == "" {
			WriteError(c, logger, apperr.New(apperr.CodeUnauthorized, "トークンが無効です"))
			return
		}

		c.Set(contextKeyEmail, claims.Email())
		c.Next()
	}
}

// GetEmail はGinコンテキストから認証済みメールアドレスを取得する。
// BearerAuthミドルウェアが事前に適用されている必要がある。
func GetEmail(c *gin.Context) string {
	return c.GetString(contextKeyEmail)
}
