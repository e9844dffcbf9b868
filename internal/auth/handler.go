package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/bookshop/internal/identity"
	"github.com/nao1215/bookshop/internal/model"
	"github.com/nao1215/bookshop/pkg/apperr"
	"github.com/nao1215/bookshop/pkg/middleware"
)

// userResponse はユーザー情報のJSONレスポンス構造。
type userResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Gender      string `json:"gender"`
	DateOfBirth string `json:"date_of_birth"`
	IsActive    bool   `json:"is_active"`
	IsVerified  bool   `json:"is_verified"`
	// CreatedAt は登録日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Gender:      string(u.Gender),
		DateOfBirth: model.FormatDate(u.DateOfBirth),
		IsActive:    u.IsActive,
		IsVerified:  u.IsVerified,
		CreatedAt:   u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// registerRequest はユーザー登録のリクエストボディ。
type registerRequest struct {
	Username    string `json:"username" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required"`
	FirstName   string `json:"first_name" binding:"required"`
	LastName    string `json:"last_name" binding:"required"`
	Gender      string `json:"gender" binding:"required,oneof=male female other"`
	DateOfBirth string `json:"date_of_birth" binding:"required"`
}

// loginRequest はログインのリクエストボディ。emailにはユーザー名も指定できる。
type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// errInvalidBody はリクエストボディの検証失敗を表す。
func errInvalidBody(err error) error {
	return apperr.Wrap(apperr.CodeBadRequest, "リクエストの形式が不正です", err)
}

// handleRegister はユーザー登録ハンドラを返す。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.WriteError(c, s.logger, errInvalidBody(err))
			return
		}

		user, err := s.service.Register(c.Request.Context(), identity.RegisterInput{
			Username:    req.Username,
			Email:       req.Email,
			Password:    req.Password,
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			Gender:      req.Gender,
			DateOfBirth: req.DateOfBirth,
		})
		if err != nil {
			middleware.WriteError(c, s.logger, err)
			return
		}
		c.JSON(http.StatusCreated, toUserResponse(user))
	}
}

// handleLogin はログインハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.WriteError(c, s.logger, errInvalidBody(err))
			return
		}

		result, err := s.service.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			middleware.WriteError(c, s.logger, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// verifyPage はメールアドレス確認結果ページの表示内容。
type verifyPage struct {
	Title   string
	Message string
	Success bool
}

const verifyFailedTitle = "メールアドレスの確認に失敗しました"

// handleVerifyEmail はメールアドレス確認ハンドラを返す。
// メール内のリンクからブラウザで開かれるため結果はHTMLで返す。
func (s *Server) handleVerifyEmail() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		tokenString := c.Query("token")
		if userID == "" || tokenString == "" {
			c.HTML(http.StatusBadRequest, "verify_email.html", verifyPage{
				Title:   verifyFailedTitle,
				Message: "確認リンクが無効です。もう一度お試しいただくか、サポートにお問い合わせください。",
			})
			return
		}

		if err := s.service.VerifyEmail(c.Request.Context(), userID, tokenString); err != nil {
			s.renderVerifyError(c, err)
			return
		}

		c.HTML(http.StatusOK, "verify_email.html", verifyPage{
			Title:   "メールアドレスを確認しました",
			Message: "メールアドレスの確認が完了しました。ログインできます。",
			Success: true,
		})
	}
}

// renderVerifyError は確認失敗の理由に応じたページを返す。
func (s *Server) renderVerifyError(c *gin.Context, err error) {
	page := verifyPage{Title: verifyFailedTitle}
	status := http.StatusBadRequest

	switch apperr.CodeOf(err) {
	case apperr.CodeInvalidToken:
		page.Message = apperr.PublicMessage(err) + "。もう一度お試しいただくか、サポートにお問い合わせください。"
	case apperr.CodeNotFound:
		status = http.StatusNotFound
		page.Message = "ユーザーが見つかりません。もう一度お試しいただくか、サポートにお問い合わせください。"
	default:
		middleware.LogError(c, s.logger, err)
		page.Message = "メールアドレスの確認中にエラーが発生しました。もう一度お試しいただくか、サポートにお問い合わせください。"
	}
	c.HTML(status, "verify_email.html", page)
}

// handleForgotPassword はパスワード再設定要求ハンドラを返す。
func (s *Server) handleForgotPassword() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req forgotPasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.WriteError(c, s.logger, errInvalidBody(err))
			return
		}

		message, err := s.service.ForgotPassword(c.Request.Context(), req.Email)
		if err != nil {
			middleware.WriteError(c, s.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": message})
	}
}

// handleResetPassword はパスワード再設定ハンドラを返す。
func (s *Server) handleResetPassword() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resetPasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.WriteError(c, s.logger, errInvalidBody(err))
			return
		}

		if err := s.service.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
			middleware.WriteError(c, s.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "パスワードを再設定しました"})
	}
}

// handleGetMe はログイン中のユーザー情報を返すハンドラを返す。
func (s *Server) handleGetMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.service.GetProfile(c.Request.Context(), middleware.GetEmail(c))
		if err != nil {
			middleware.WriteError(c, s.logger, err)
			return
		}
		c.JSON(http.StatusOK, toUserResponse(user))
	}
}

// handleUpdateMe はログイン中のユーザー情報を更新するハンドラを返す。
func (s *Server) handleUpdateMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		var fields map[string]any
		if err := c.ShouldBindJSON(&fields); err != nil {
			middleware.WriteError(c, s.logger, errInvalidBody(err))
			return
		}

		user, err := s.service.UpdateProfile(c.Request.Context(), middleware.GetEmail(c), fields)
		if err != nil {
			middleware.WriteError(c, s.logger, err)
			return
		}
		c.JSON(http.StatusOK, toUserResponse(user))
	}
}
