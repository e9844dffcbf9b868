// 認証サービスのエントリポイント。
// ユーザー登録、ログイン、メールアドレス確認、パスワード再設定、
// プロフィールの取得・更新を提供する。確認メールとリセットメールは
// バックグラウンドのワーカーが送信する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/nao1215/bookshop/internal/auth"
	"github.com/nao1215/bookshop/internal/config"
	"github.com/nao1215/bookshop/internal/identity"
	"github.com/nao1215/bookshop/internal/metrics"
	"github.com/nao1215/bookshop/internal/notification"
	"github.com/nao1215/bookshop/internal/store"
	"github.com/nao1215/bookshop/pkg/logging"
	"github.com/nao1215/bookshop/pkg/password"
	"github.com/nao1215/bookshop/pkg/token"
)

// shutdownTimeout は通知キューの排出とストア切断に許す時間。
const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadAuth()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "auth-service",
	})
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("認証サービスの起動に失敗", zap.Error(err))
	}
}

func run(cfg *config.Auth, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWT.DevSecret {
		logger.Warn("JWT_SECRET_KEYが未設定のため開発用の署名鍵を使用します。本番環境では必ず設定してください")
	}
	tokens, err := token.NewManager(cfg.JWT.Secret, cfg.JWT.Algorithm)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, store.Config{
		MongoURL:        cfg.Store.MongoURL,
		MongoDatabase:   cfg.Store.MongoDatabase,
		SQLitePath:      cfg.Store.SQLitePath,
		ConnectAttempts: cfg.Store.ConnectAttempts,
		BackoffInitial:  cfg.Store.BackoffInitial,
		BackoffMax:      cfg.Store.BackoffMax,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			logger.Error("ストアの切断に失敗しました", zap.Error(err))
		}
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(promReg)

	renderer, err := notification.NewRenderer(cfg.BaseURL)
	if err != nil {
		return err
	}
	notifier := notification.NewDispatcher(notification.Config{
		Workers:   cfg.Notify.Workers,
		QueueSize: cfg.Notify.QueueSize,
	}, renderer, newMailer(cfg.Mail, logger), logger, collector)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := notifier.Shutdown(drainCtx); err != nil {
			logger.Error("通知ワーカーの停止に失敗しました", zap.Error(err))
		}
	}()

	svc := identity.NewService(st, password.NewBcrypt(cfg.BcryptCost), tokens, notifier, logger)
	server, err := auth.NewServer(auth.Config{
		Port:         cfg.Port,
		Service:      svc,
		Store:        st,
		Tokens:       tokens,
		Logger:       logger,
		Gatherer:     promReg,
		AllowOrigins: cfg.CORSAllowedOrigins,
	})
	if err != nil {
		return err
	}

	logger.Info("認証サービスを起動します", zap.String("port", cfg.Port))
	if err := server.Run(ctx); err != nil {
		return err
	}
	logger.Info("認証サービスを停止しました")
	return nil
}

// newMailer はSMTPの認証情報が揃っていればSMTPMailerを、そうでなければログ出力のみのMailerを返す。
func newMailer(cfg config.Mail, logger *zap.Logger) notification.Mailer {
	if !cfg.Enabled() {
		logger.Warn("SENDER_EMAILまたはSENDER_PASSWORDが未設定のためメールは送信されません")
		return notification.NewLogMailer(logger)
	}
	return notification.NewSMTPMailer(notification.SMTPConfig{
		Host:     cfg.Server,
		Port:     cfg.Port,
		Username: cfg.Sender,
		Password: cfg.Password,
		StartTLS: cfg.StartTLS,
		SSLTLS:   cfg.SSLTLS,
	})
}
