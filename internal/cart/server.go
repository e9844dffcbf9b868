package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nao1215/bookshop/internal/metrics"
	"github.com/nao1215/bookshop/pkg/middleware"
)

// serviceName はヘルスチェックで返すサービス名。
const serviceName = "cart-service"

// Pinger はストアの疎通確認を行う。
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config はServerの依存と設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// Service はカート操作のワークフロー。
	Service *Service
	// Store はヘルスチェックで疎通確認するストア。
	Store Pinger
	// Identity はBearerトークンの持ち主を認証サービスに問い合わせる。
	Identity middleware.IdentityResolver
	// Logger はアクセスログとエラーログの出力先。
	Logger *zap.Logger
	// Gatherer は/metricsで公開するメトリクス。nilの場合は公開しない。
	Gatherer prometheus.Gatherer
}

// Server はカートサービスのHTTPサーバー。
type Server struct {
	router  *gin.Engine
	port    string
	service *Service
	store   Pinger
	logger  *zap.Logger
}

// NewServer は新しいカートサーバーを生成する。
func NewServer(cfg Config) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(cfg.Logger))
	router.Use(middleware.AccessLog(cfg.Logger))
	router.Use(middleware.CORS(middleware.PermissiveCORSConfig()))

	s := &Server{
		router:  router,
		port:    cfg.Port,
		service: cfg.Service,
		store:   cfg.Store,
		logger:  cfg.Logger,
	}

	s.router.GET("/health", s.handleHealth())
	if cfg.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(metrics.Handler(cfg.Gatherer)))
	}

	authed := s.router.Group("", middleware.RemoteAuth(cfg.Identity, cfg.Logger))
	{
		authed.GET("/", s.handleGetCart())
		authed.DELETE("/", s.handleClearCart())
		authed.POST("/items", s.handleAddItem())
		authed.PUT("/items/:itemId", s.handleUpdateItem())
		authed.DELETE("/items/:itemId", s.handleRemoveItem())
	}
	return s
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

// handleHealth はストアの疎通を確認するハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status := "ok"
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Error("ヘルスチェックに失敗しました", zap.Error(err))
			status = "unhealthy"
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "service": serviceName})
	}
}
