package cart

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/bookshop/pkg/apperr"
	"github.com/nao1215/bookshop/pkg/middleware"
)

type addItemRequest struct {
	BookID   string `json:"bookId" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

// respond は成功時の共通レスポンス {"success": true, "data": ...} を書き込む。
func respond(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func errInvalidBody(err error) error {
	return apperr.Wrap(apperr.CodeBadRequest, "リクエストの形式が不正です", err)
}

// handleGetCart はログイン中のユーザーのカートを返すハンドラを返す。
func (s *Server) handleGetCart() gin.HandlerFunc {
	return func(c *gin.Context) {
		cart, err := s.service.Get(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			middleware.WriteError(c, s.logger, err)
			return
		}
		respond(c, cart)
	}
}

// handleAddItem は書籍をカートに追加するハンドラを返す。
func (s *Server) handleAddItem() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.WriteError(c, s.logger, errInvalidBody(err))
			return
		}

		item, err := s.service.AddItem(c.Request.Context(), middleware.GetUserID(c), req.BookID, req.Quantity)
		if err != nil {
			middleware.WriteError(c, s.logger, err)
			return
		}
		respond(c, gin.H{"message": "カートに追加しました", "item": item})
	}
}

// handleUpdateItem はアイテムの数量を更新するハンドラを返す。
func (s *Server) handleUpdateItem() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.WriteError(c, s.logger, errInvalidBody(err))
			return
		}

		if err := s.service.UpdateItem(c.Request.Context(), middleware.GetUserID(c), c.Param("itemId"), req.Quantity); err != nil {
			middleware.WriteError(c, s.logger, err)
			return
		}
		respond(c, gin.H{"message": "数量を更新しました"})
	}
}

// handleRemoveItem はアイテムを削除するハンドラを返す。
func (s *Server) handleRemoveItem() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.service.RemoveItem(c.Request.Context(), middleware.GetUserID(c), c.Param("itemId")); err != nil {
			middleware.WriteError(c, s.logger, err)
			return
		}
		respond(c, gin.H{"message": "カートから削除しました"})
	}
}

// handleClearCart はカートを空にするハンドラを返す。
func (s *Server) handleClearCart() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.service.Clear(c.Request.Context(), middleware.GetUserID(c)); err != nil {
			middleware.WriteError(c, s.logger, err)
			return
		}
		respond(c, gin.H{"message": "カートを空にしました"})
	}
}
