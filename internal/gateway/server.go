package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nao1215/bookshop/internal/metrics"
	"github.com/nao1215/bookshop/pkg/apperr"
	"github.com/nao1215/bookshop/pkg/middleware"
)

// serviceName はヘルスチェックで返すサービス名。
const serviceName = "api-gateway"

// contentSecurityPolicy はすべての応答に付与するCSP。
const contentSecurityPolicy = "default-src * 'unsafe-inline' 'unsafe-eval'; connect-src *; img-src * data:; script-src * 'unsafe-inline' 'unsafe-eval'; style-src * 'unsafe-inline';"

// proxyMethods は転送対象のHTTPメソッド。
var proxyMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}

// Forwarder はリクエストを転送先へ中継する。
type Forwarder interface {
	Forward(ctx context.Context, req Request) (*Response, error)
}

// Config はServerの依存と設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// Forwarder はリクエストの転送処理。
	Forwarder Forwarder
	// Logger はアクセスログとエラーログの出力先。
	Logger *zap.Logger
	// Gatherer は/metricsで公開するメトリクス。nilの場合は公開しない。
	Gatherer prometheus.Gatherer
}

// Server はAPI Gatewayサービスの HTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port      string
	forwarder Forwarder
	logger    *zap.Logger
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg Config) *Server {
	// OPTIONSはDispatcherがサービス名を解決したうえで応答する
	cors := middleware.PermissiveCORSConfig()
	cors.HandlePreflight = false

	router := gin.New()
	router.Use(middleware.Recovery(cfg.Logger))
	router.Use(middleware.AccessLog(cfg.Logger))
	router.Use(middleware.CORS(cors))
	router.Use(securityHeaders())

	s := &Server{
		router:    router,
		port:      cfg.Port,
		forwarder: cfg.Forwarder,
		logger:    cfg.Logger,
	}
	s.setupRoutes(cfg.Gatherer)

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

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})

	if gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(metrics.Handler(gatherer)))
	}

	// 内部サービスへのプロキシ
	s.router.Match(proxyMethods, "/:service/*path", s.handleProxy())
}

// handleProxy はリクエストを内部サービスへ転送するハンドラを返す。
func (s *Server) handleProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			middleware.WriteError(c, s.logger,
				apperr.Wrap(apperr.CodeBadRequest, "リクエストボディの読み込みに失敗しました", err))
			return
		}

		resp, err := s.forwarder.Forward(c.Request.Context(), Request{
			Service:  c.Param("service"),
			Path:     downstreamPath(c.Request.URL),
			Method:   c.Request.Method,
			Header:   c.Request.Header.Clone(),
			RawQuery: c.Request.URL.RawQuery,
			Body:     body,
		})
		if err != nil {
			middleware.WriteError(c, s.logger, err)
			return
		}

		for k, v := range resp.Header {
			c.Writer.Header()[k] = v
		}
		if resp.ContentType == "" {
			c.Status(resp.StatusCode)
			_, _ = c.Writer.Write(resp.Body)
			return
		}
		c.Data(resp.StatusCode, resp.ContentType, resp.Body)
	}
}

// downstreamPath は先頭のサービス名を除いたパスをエスケープされたまま返す。
// %2Fや%3Fをデコードすると転送先でパスやクエリの区切りが変わるため、デコード前の形を使う。
func downstreamPath(u *url.URL) string {
	_, rest, _ := strings.Cut(strings.TrimPrefix(u.EscapedPath(), "/"), "/")
	return rest
}

// securityHeaders はContent-Security-Policyヘッダーを付与するミドルウェアを返す。
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Security-Policy", contentSecurityPolicy)
		c.Next()
	}
}
