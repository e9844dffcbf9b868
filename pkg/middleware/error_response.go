package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/bookshop/pkg/apperr"
)

// WriteError はエラーをステータスコード付きのJSONレスポンスとして書き込む。
// ステータスコードへの変換はapperr.Statusに一元化する。
// 内部原因はログにのみ出力し、レスポンスには安全なメッセージだけを含める。
func WriteError(c *gin.Context, logger *zap.Logger, err error) {
	LogError(c, logger, err)
	c.AbortWithStatusJSON(apperr.Status(err), gin.H{
		"error": apperr.PublicMessage(err),
		"code":  string(apperr.CodeOf(err)),
	})
}

// LogError はエラーを対応するステータスコードとともにログに出力する。
// 500系はErrorレベル、それ以外はInfoレベルで出力する。
func LogError(c *gin.Context, logger *zap.Logger, err error) {
	status := apperr.Status(err)
	fields := []zap.Field{
		zap.String("request_id", GetRequestID(c)),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= 500 {
		logger.Error("リクエストの処理に失敗", fields...)
	} else {
		logger.Info("リクエストを拒否", fields...)
	}
	_ = c.Error(err)
}
