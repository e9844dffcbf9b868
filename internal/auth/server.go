package auth

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nao1215/bookshop/internal/identity"
	"github.com/nao1215/bookshop/internal/metrics"
	"github.com/nao1215/bookshop/pkg/middleware"
)

//go:embed templates/*.html
var templateFS embed.FS

// serviceName はヘルスチェックで返すサービス名。
const serviceName = "auth-service"

// Pinger はストアの疎通確認を行う。
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config はServerの依存と設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// Service はアカウント管理のワークフロー。
	Service *identity.Service
	// Store はヘルスチェックで疎通確認するストア。
	Store Pinger
	// Tokens はBearerトークンの検証に使用する。
	Tokens middleware.TokenVerifier
	// Logger はアクセスログとエラーログの出力先。
	Logger *zap.Logger
	// Gatherer は/metricsで公開するメトリクス。nilの場合は公開しない。
	Gatherer prometheus.Gatherer
	// AllowOrigins はCORSで許可するオリジン。
	AllowOrigins []string
}

// Server は認証サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port    string
	service *identity.Service
	store   Pinger
	tokens  middleware.TokenVerifier
	logger  *zap.Logger
}

// NewServer は新しい認証サーバーを生成する。
func NewServer(cfg Config) (*Server, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("HTMLテンプレートの読み込みに失敗: %w", err)
	}

	cors := middleware.PermissiveCORSConfig()
	if len(cfg.AllowOrigins) > 0 {
		cors.AllowOrigins = cfg.AllowOrigins
	}

	router := gin.New()
	router.Use(middleware.Recovery(cfg.Logger))
	router.Use(middleware.AccessLog(cfg.Logger))
	router.Use(middleware.CORS(cors))
	router.SetHTMLTemplate(tmpl)

	s := &Server{
		router:  router,
		port:    cfg.Port,
		service: cfg.Service,
		store:   cfg.Store,
		tokens:  cfg.Tokens,
		logger:  cfg.Logger,
	}
	s.setupRoutes(cfg.Gatherer)

	return s, nil
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxが終了したらグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.GET("/", s.handleIndex())

	// 認証不要のエンドポイント
	s.router.POST("/register", s.handleRegister())
	s.router.POST("/login", s.handleLogin())
	s.router.GET("/verify-email", s.handleVerifyEmail())
	s.router.POST("/forgot-password", s.handleForgotPassword())
	s.router.POST("/reset-password", s.handleResetPassword())

	// アクセストークンが必要なエンドポイント
	me := s.router.Group("/me")
	me.Use(middleware.BearerAuth(s.tokens, s.logger))
	{
		me.GET("", s.handleGetMe())
		me.PUT("", s.handleUpdateMe())
	}

	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())

	if gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(metrics.Handler(gatherer)))
	}
}

// endpoint はエンドポイント一覧の1項目。
type endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

var endpoints = []endpoint{
	{Method: http.MethodPost, Path: "/register", Description: "ユーザー登録"},
	{Method: http.MethodPost, Path: "/login", Description: "メールアドレスまたはユーザー名とパスワードでログイン"},
	{Method: http.MethodGet, Path: "/verify-email", Description: "メールアドレスの確認"},
	{Method: http.MethodPost, Path: "/forgot-password", Description: "パスワード再設定の要求"},
	{Method: http.MethodPost, Path: "/reset-password", Description: "パスワードの再設定"},
	{Method: http.MethodGet, Path: "/me", Description: "ログイン中のユーザー情報の取得"},
	{Method: http.MethodPut, Path: "/me", Description: "ログイン中のユーザー情報の更新"},
}

// handleIndex はエンドポイント一覧を返すハンドラを返す。
func (s *Server) handleIndex() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":   "Authentication Service",
			"version":   "1.0.0",
			"endpoints": endpoints,
		})
	}
}

// handleHealth はストアの疎通を確認するハンドラを返す。
// 疎通できない場合もステータスは200で、statusフィールドで状態を示す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status := "healthy"
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Error("ヘルスチェックに失敗しました", zap.Error(err))
			status = "unhealthy"
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "service": serviceName})
	}
}
